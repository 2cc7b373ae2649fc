package server

import (
	"net/http"

	"github.com/ChaceN89/library/pkg/domain"
)

type favoriteRequest struct {
	BookID string `json:"bookId"`
}

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.listFavorites(w, r, user, "")
}

func (s *Server) handleListUserFavorites(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.listFavorites(w, r, user, r.PathValue("id"))
}

func (s *Server) listFavorites(w http.ResponseWriter, r *http.Request, user domain.User, userID string) {
	favs, err := s.app.ListFavorites(r.Context(), user, userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": favs,
		"count": len(favs),
	})
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req favoriteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fav, err := s.app.AddFavorite(r.Context(), user, req.BookID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fav)
}

func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.RemoveFavorite(r.Context(), user, r.PathValue("bookID")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
