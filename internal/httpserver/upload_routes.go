package httpserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"dmchat/internal/config"
)

var allowedImageTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

// handleUpload stores one image from the multipart field "file" and returns
// the imageRef a message can carry. The content is sniffed; the client's
// filename and Content-Type are ignored.
func handleUpload(cfg *config.Config, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, int64(cfg.MaxUploadBytes)+1024*1024)
		if err := r.ParseMultipartForm(int64(cfg.MaxUploadBytes)); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to parse multipart form"})
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file"})
			return
		}
		defer file.Close()
		if header.Size > int64(cfg.MaxUploadBytes) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
			return
		}

		mtype, err := mimetype.DetectReader(file)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read file"})
			return
		}
		if !mimetype.EqualsAny(mtype.String(), allowedImageTypes...) {
			writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "only png, jpeg, gif and webp images are accepted"})
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			log.Error("Error while seeking at the beginning", "filename", header.Filename, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not save file"})
			return
		}

		filename := uuid.NewString() + mtype.Extension()
		out, err := os.Create(filepath.Join(cfg.UploadDir, filename))
		if err != nil {
			log.Error("Could not create upload", "filename", filename, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not create file"})
			return
		}
		defer out.Close()

		if _, err := io.Copy(out, file); err != nil {
			log.Error("Could not save upload", "filename", filename, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not save file"})
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"imageRef": "/api/uploads/" + filename,
			"mimeType": mtype.String(),
			"size":     header.Size,
		})
	}
}

// handleServeUpload serves files from cfg.UploadDir: /api/uploads/{filename}
func handleServeUpload(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		if filename == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing filename"})
			return
		}
		// Prevent path traversal by not allowing separators.
		if filepath.Base(filename) != filename {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid filename"})
			return
		}
		http.ServeFile(w, r, filepath.Join(cfg.UploadDir, filename))
	}
}
