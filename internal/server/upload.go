package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/snapbin/snapbin/internal/sniff"
	"github.com/snapbin/snapbin/internal/store"
)

// uploadField is the multipart form field carrying the payload.
const uploadField = "file"

// drainSlack bounds how much of a rejected body is read off the wire to keep
// the connection reusable. Anything larger closes the connection instead.
const drainSlack = 1 << 20

// handleUpload accepts a multipart image or video upload. The payload is
// classified from its first bytes before anything is written to disk.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	st := s.cfg.Images

	// A declared length over the limit is rejected before reading the body.
	if r.ContentLength > st.MaxSize() {
		s.cfg.Metrics.PayloadTooLarge.Inc()
		writeJSON(w, http.StatusRequestEntityTooLarge, true, "upload too large")
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, true, "expected multipart form data")
		return
	}

	part, err := nextUploadPart(mr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, true, "missing file field")
		return
	}

	first := make([]byte, sniff.BytesNeeded)
	n, err := io.ReadFull(part, first)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		writeJSON(w, http.StatusBadRequest, true, "unreadable upload")
		return
	}
	first = first[:n]

	ext, ok := sniff.DetectExt(first)
	if !ok {
		s.cfg.Metrics.UnsupportedContent.Inc()
		closeConn := !drain(r.Body)
		writeJSON(w, http.StatusUnsupportedMediaType, closeConn, "unsupported file format")
		return
	}

	name, size, err := st.Save(first, part, ext)
	if err != nil {
		s.uploadError(w, err)
		return
	}

	s.cfg.Metrics.UploadsTotal.WithLabelValues("image").Inc()
	s.cfg.Metrics.UploadBytes.WithLabelValues("image").Add(float64(size))
	log.Info().Str("name", name).Int64("bytes", size).Msg("image stored")
	writeJSON(w, http.StatusOK, false, s.cfg.LinkPrefix+"/i/"+name)
}

// handlePaste accepts a short text paste as the raw request body. The limit
// is small enough to buffer in memory before validation.
func (s *Server) handlePaste(w http.ResponseWriter, r *http.Request) {
	st := s.cfg.Pastes

	if r.ContentLength > st.MaxSize() {
		s.cfg.Metrics.PayloadTooLarge.Inc()
		writeJSON(w, http.StatusRequestEntityTooLarge, true, "paste too large")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, st.MaxSize()+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, true, "unreadable upload")
		return
	}
	if int64(len(body)) > st.MaxSize() {
		s.cfg.Metrics.PayloadTooLarge.Inc()
		writeJSON(w, http.StatusRequestEntityTooLarge, true, "paste too large")
		return
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, false, "empty paste")
		return
	}
	if !utf8.Valid(body) {
		s.cfg.Metrics.UnsupportedContent.Inc()
		writeJSON(w, http.StatusUnsupportedMediaType, false, "paste must be valid UTF-8")
		return
	}

	name, size, err := st.Save(body, strings.NewReader(""), "txt")
	if err != nil {
		s.uploadError(w, err)
		return
	}

	s.cfg.Metrics.UploadsTotal.WithLabelValues("paste").Inc()
	s.cfg.Metrics.UploadBytes.WithLabelValues("paste").Add(float64(size))
	log.Info().Str("name", name).Int64("bytes", size).Msg("paste stored")
	writeJSON(w, http.StatusOK, false, s.cfg.LinkPrefix+"/p/"+name)
}

func (s *Server) uploadError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrTooLarge) {
		s.cfg.Metrics.PayloadTooLarge.Inc()
		// the body was abandoned mid-stream, the connection cannot be reused
		writeJSON(w, http.StatusRequestEntityTooLarge, true, "upload too large")
		return
	}
	log.Error().Err(err).Msg("failed to store upload")
	writeJSON(w, http.StatusInternalServerError, true, "failed to store upload")
}

// nextUploadPart advances the multipart stream to the payload field.
func nextUploadPart(mr *multipart.Reader) (io.Reader, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == uploadField {
			return part, nil
		}
	}
}

// drain consumes what is left of body so the connection can be reused. It
// reports false when the remainder exceeds the slack and was abandoned.
func drain(body io.Reader) bool {
	n, err := io.Copy(io.Discard, io.LimitReader(body, drainSlack+1))
	return err == nil && n <= drainSlack
}
