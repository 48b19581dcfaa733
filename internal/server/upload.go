package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// readBatchInput returns the batch file carried by r: the first file of a
// multipart form, or the raw body otherwise. Uploaded files are kept as
// "input" artifacts.
func (s *Server) readBatchInput(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBatchBytes)
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return "", nil, fmt.Errorf("read body: %w", err)
		}
		return "request body", data, nil
	}
	if err := r.ParseMultipartForm(s.maxBatchBytes); err != nil {
		return "", nil, fmt.Errorf("parse multipart: %w", err)
	}
	for _, files := range r.MultipartForm.File {
		for _, fh := range files {
			src, err := fh.Open()
			if err != nil {
				return "", nil, err
			}
			defer src.Close()
			data, err := io.ReadAll(src)
			if err != nil {
				return "", nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
			}
			if err := s.saveUpload(fh.Filename, data); err != nil {
				return "", nil, fmt.Errorf("save upload %s: %w", fh.Filename, err)
			}
			return fh.Filename, data, nil
		}
	}
	return "", nil, errors.New("no files uploaded")
}

func (s *Server) saveUpload(name string, data []byte) error {
	pattern := "upload-*"
	if ext := filepath.Ext(name); ext != "" {
		pattern = "upload-*" + ext
	}
	dest, err := os.CreateTemp(s.uploadsDir, pattern)
	if err != nil {
		return err
	}
	if _, err := dest.Write(data); err != nil {
		dest.Close()
		os.Remove(dest.Name())
		return err
	}
	if err := dest.Close(); err != nil {
		return err
	}
	_, err = s.addArtifact(dest.Name(), filepath.Base(name), "", "input")
	return err
}
