package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ChaceN89/library/internal/app"
	"github.com/ChaceN89/library/pkg/domain"
	"github.com/ChaceN89/library/pkg/pagination"
)

const (
	multipartMemory = 32 << 20
	dateLayout      = "2006-01-02"
)

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := pagination.PageRequestFromQuery(q, s.app.Pagination())
	result, err := s.app.ListBooks(r.Context(), app.BookFilter{
		Genre:    q.Get("genre"),
		Language: q.Get("language"),
		Author:   q.Get("author"),
		OwnerID:  q.Get("owner"),
	}, page)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.app.GetPublicBook(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	url, err := s.app.RecordDownload(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleMyBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	books, err := s.app.ListMyBooks(r.Context(), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": books,
		"count": len(books),
	})
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	form, ok := s.parseMultipart(w, r)
	if !ok {
		return
	}
	in := app.BookInput{
		Title:       formValue(form, "title"),
		Description: formValue(form, "description"),
		Author:      formValue(form, "author"),
		Genre:       formValue(form, "genre"),
		Language:    formValue(form, "language"),
	}
	var err error
	if in.PublishedDate, err = parseDate(formValue(form, "published_date")); err != nil {
		badRequest(w, err.Error())
		return
	}
	if in.Content, err = readFormFile(form, "content"); err != nil {
		badRequest(w, err.Error())
		return
	}
	if in.CoverArt, err = readFormFile(form, "cover_art"); err != nil {
		badRequest(w, err.Error())
		return
	}
	book, err := s.app.CreateBook(r.Context(), user, in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

type bookPatchRequest struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	Author        *string `json:"author"`
	Genre         *string `json:"genre"`
	Language      *string `json:"language"`
	PublishedDate *string `json:"publishedDate"`
}

// handleUpdateBook accepts multipart when files are replaced and JSON for
// metadata-only changes.
func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	var (
		patch app.BookPatch
		date  *string
		err   error
	)
	if isMultipart(r) {
		form, ok := s.parseMultipart(w, r)
		if !ok {
			return
		}
		patch.Title = optionalFormValue(form, "title")
		patch.Description = optionalFormValue(form, "description")
		patch.Author = optionalFormValue(form, "author")
		patch.Genre = optionalFormValue(form, "genre")
		patch.Language = optionalFormValue(form, "language")
		date = optionalFormValue(form, "published_date")
		if patch.Content, err = readFormFile(form, "content"); err != nil {
			badRequest(w, err.Error())
			return
		}
		if patch.CoverArt, err = readFormFile(form, "cover_art"); err != nil {
			badRequest(w, err.Error())
			return
		}
	} else {
		var req bookPatchRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		patch = app.BookPatch{
			Title:       req.Title,
			Description: req.Description,
			Author:      req.Author,
			Genre:       req.Genre,
			Language:    req.Language,
		}
		date = req.PublishedDate
	}
	if date != nil {
		if patch.PublishedDate, err = parseDate(*date); err != nil {
			badRequest(w, err.Error())
			return
		}
	}
	book, err := s.app.UpdateBook(r.Context(), user, r.PathValue("id"), patch)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.DeleteBook(r.Context(), user, r.PathValue("id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipart.Form, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file too large")
			return nil, false
		}
		badRequest(w, "invalid form data")
		return nil, false
	}
	return r.MultipartForm, true
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mediaType, "multipart/")
}

func formValue(form *multipart.Form, key string) string {
	if v := optionalFormValue(form, key); v != nil {
		return *v
	}
	return ""
}

func optionalFormValue(form *multipart.Form, key string) *string {
	values, ok := form.Value[key]
	if !ok || len(values) == 0 {
		return nil
	}
	return &values[0]
}

// readFormFile returns nil when the field was not sent.
func readFormFile(form *multipart.Form, field string) (*app.FileUpload, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, nil
	}
	header := headers[0]
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("cannot read %s", field)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s", field)
	}
	return &app.FileUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("published_date must be YYYY-MM-DD")
	}
	return &t, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}
