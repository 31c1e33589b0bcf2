package handler

import (
	"net/http"

	"github.com/educhat/internal/fileserver"
	"github.com/go-chi/chi/v5"
)

type FileHandler struct {
	files *fileserver.Service
}

func NewFileHandler(files *fileserver.Service) *FileHandler {
	return &FileHandler{files: files}
}

func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	h.files.Upload(w, r)
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.files.Serve(w, r, chi.URLParam(r, "filename"))
}
