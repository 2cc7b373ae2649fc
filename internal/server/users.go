package server

import (
	"net/http"

	"github.com/ChaceN89/library/internal/app"
	"github.com/ChaceN89/library/pkg/domain"
)

type userPatchRequest struct {
	Username    *string `json:"username"`
	FirstName   *string `json:"firstName"`
	LastName    *string `json:"lastName"`
	Email       *string `json:"email"`
	IsStaff     *bool   `json:"isStaff"`
	IsSuperuser *bool   `json:"isSuperuser"`
	IsActive    *bool   `json:"isActive"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, user domain.User) {
	users, err := s.app.ListUsers(r.Context(), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": users,
		"count": len(users),
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, user domain.User) {
	view, err := s.app.GetUser(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req userPatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	targetID := r.PathValue("id")
	view, err := s.app.UpdateUser(r.Context(), user, targetID, app.UserPatch{
		Username:    req.Username,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		IsStaff:     req.IsStaff,
		IsSuperuser: req.IsSuperuser,
		IsActive:    req.IsActive,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if req.IsStaff != nil || req.IsSuperuser != nil || req.IsActive != nil {
		s.audit(r, "user_privileges_changed", "success", "actor_id", user.ID, "target_id", targetID)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, user domain.User) {
	targetID := r.PathValue("id")
	report, err := s.app.DeleteUser(r.Context(), user, targetID)
	if err != nil {
		s.audit(r, "user_delete", "fail", "actor_id", user.ID, "target_id", targetID)
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "user_delete", "success", "actor_id", user.ID, "target_id", targetID,
		"books_deleted", report.BooksDeleted, "cleanup_failures", len(report.Failures))
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetPicture(w http.ResponseWriter, r *http.Request, user domain.User) {
	pic, err := s.app.GetProfilePicture(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pic)
}

func (s *Server) handleUploadPicture(w http.ResponseWriter, r *http.Request, user domain.User) {
	form, ok := s.parseMultipart(w, r)
	if !ok {
		return
	}
	file, err := readFormFile(form, "image")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if file == nil {
		badRequest(w, "image is required")
		return
	}
	pic, err := s.app.UploadProfilePicture(r.Context(), user, r.PathValue("id"), *file)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pic)
}

func (s *Server) handleDeletePicture(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.DeleteProfilePicture(r.Context(), user, r.PathValue("id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
