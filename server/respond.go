package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"tyflo-push/pkg/notifier"
)

// errBodyTooLarge and errMalformedJSON classify decode failures.
var (
	errBodyTooLarge  = errors.New("request body too large")
	errMalformedJSON = errors.New("malformed JSON body")
)

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
	OK    bool   `json:"ok"`
}

// decodeJSON reads the whole body, at most maxBodyBytes, into dst. An empty
// body leaves dst untouched. Anything after the first JSON value is rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return errMalformedJSON
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(dst); err != nil {
		return errMalformedJSON
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errMalformedJSON
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) writeOK(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{OK: false, Error: msg})
}

// writeError maps an error to its HTTP status.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		s.writeErrorMessage(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, errMalformedJSON):
		s.writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case notifier.IsValidation(err):
		s.writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case notifier.IsNotFound(err):
		s.writeErrorMessage(w, http.StatusNotFound, err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		s.writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}
