package server

import (
	"net/http"

	"github.com/ChaceN89/library/internal/app"
	"github.com/ChaceN89/library/pkg/domain"
)

type commentRequest struct {
	BookID   string `json:"bookId"`
	ParentID string `json:"parentId"`
	Content  string `json:"content"`
}

func (s *Server) handleListThread(w http.ResponseWriter, r *http.Request) {
	thread, err := s.app.ListThread(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": thread})
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req commentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	comment, err := s.app.CreateComment(r.Context(), user, app.CommentInput{
		BookID:   req.BookID,
		ParentID: req.ParentID,
		Content:  req.Content,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req commentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	comment, err := s.app.UpdateComment(r.Context(), user, r.PathValue("id"), req.Content)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comment)
}

// handleDeleteComment tombstones the comment so replies stay attached.
func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request, user domain.User) {
	comment, err := s.app.TombstoneComment(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comment)
}
