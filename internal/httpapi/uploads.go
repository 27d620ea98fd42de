package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"time"

	"github.com/rs/zerolog/hlog"

	"desiai/internal/queue"
	"desiai/internal/storage"
)

const (
	maxUploadFiles    = 10
	maxUploadFileSize = 10 << 20
	uploadFormField   = "files"
)

var allowedUploadTypes = []string{
	"application/pdf",
	"text/plain",
	"image/jpeg",
	"image/png",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

type uploadedFile struct {
	name        string
	contentType string
	data        []byte
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if s.objects == nil {
		writeMessage(w, http.StatusServiceUnavailable, "File storage is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadFiles*maxUploadFileSize+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		writeMessage(w, http.StatusBadRequest, "No files uploaded")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File[uploadFormField]
	if len(headers) == 0 {
		writeMessage(w, http.StatusBadRequest, "No files uploaded")
		return
	}
	if len(headers) > maxUploadFiles {
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("Too many files. At most %d files are allowed.", maxUploadFiles))
		return
	}

	// Everything is validated before the first object is written.
	files := make([]uploadedFile, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > maxUploadFileSize {
			writeMessage(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("%s exceeds the 10MB limit", fh.Filename))
			return
		}
		ct := uploadContentType(fh)
		if !slices.Contains(allowedUploadTypes, ct) {
			writeMessage(w, http.StatusBadRequest, "Invalid file type. Only PDF, TXT, DOC, DOCX, JPG, and PNG files are allowed.")
			return
		}
		data, err := readPart(fh)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		files = append(files, uploadedFile{name: filepath.Base(fh.Filename), contentType: ct, data: data})
	}

	u := userFrom(r.Context())
	stored := make([]storage.FileUpload, 0, len(files))
	for _, f := range files {
		url, err := s.objects.Put(r.Context(), u.ID, f.name, f.contentType, f.data)
		if err != nil {
			s.abandonUploads(r, u.ID, stored)
			s.writeError(w, r, fmt.Errorf("store %s: %w", f.name, err))
			return
		}
		row, err := s.store.CreateFileUpload(r.Context(), storage.FileUpload{
			UserID:   u.ID,
			Filename: f.name,
			FileType: f.contentType,
			FilePath: url,
		})
		if err != nil {
			s.abandonUploads(r, u.ID, append(stored, storage.FileUpload{UserID: u.ID, FilePath: url}))
			s.writeError(w, r, err)
			return
		}
		stored = append(stored, row)
		s.metrics.Uploads.Inc()
	}

	urls := make([]string, 0, len(stored))
	for _, f := range stored {
		urls = append(urls, f.FilePath)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"urls": urls})
}

// abandonUploads undoes the files already written by a request that failed
// part way. Rows are removed now; objects go through the cleanup stream.
func (s *Server) abandonUploads(r *http.Request, userID int64, stored []storage.FileUpload) {
	ctx := context.WithoutCancel(r.Context())
	for _, f := range stored {
		if f.ID != 0 {
			if _, err := s.store.DeleteFileUpload(ctx, userID, f.ID); err != nil {
				hlog.FromRequest(r).Error().Err(err).Int64("upload_id", f.ID).Msg("failed to remove abandoned upload")
			}
		}
		s.enqueueCleanup(r, userID, f)
	}
}

func (s *Server) enqueueCleanup(r *http.Request, userID int64, f storage.FileUpload) {
	if s.cleanup == nil {
		return
	}
	if _, err := s.cleanup.Enqueue(context.WithoutCancel(r.Context()), queue.CleanupJob{
		UploadID:   f.ID,
		UserID:     userID,
		ObjectURL:  f.FilePath,
		EnqueuedAt: time.Now().UTC(),
	}); err != nil {
		hlog.FromRequest(r).Error().Err(err).Int64("upload_id", f.ID).Msg("failed to enqueue object cleanup")
	}
}

func uploadContentType(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	if byExt := mime.TypeByExtension(filepath.Ext(fh.Filename)); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	return "application/octet-stream"
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload part: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload part: %w", err)
	}
	return data, nil
}

func (s *Server) listUploads(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.ListFileUploads(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// deleteUpload removes the row now and leaves the stored object to the
// cleanup worker.
func (s *Server) deleteUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid upload ID")
		return
	}
	u := userFrom(r.Context())
	f, err := s.store.DeleteFileUpload(r.Context(), u.ID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.enqueueCleanup(r, u.ID, f)
	w.WriteHeader(http.StatusNoContent)
}
