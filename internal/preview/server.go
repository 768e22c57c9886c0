package preview

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// ServePreview writes the preview blob for id, honouring single-span Range
// requests.
func (s *Store) ServePreview(w http.ResponseWriter, r *http.Request, id string) error {
	entry, ok := s.Get(id)
	if !ok {
		http.Error(w, "preview not found", http.StatusNotFound)
		return nil
	}

	size := int64(len(entry.Data))
	contentType := entry.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=0, no-store")

	span, err := ParseRange(r.Header.Get("Range"), size)
	if errors.Is(err, ErrUnsatisfiable) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	// Malformed Range headers are ignored and the whole blob is sent.
	if err != nil && !errors.Is(err, ErrInvalidRange) {
		return err
	}

	body := bytes.NewReader(entry.Data)
	if span == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, err = io.Copy(w, body)
		}
		return err
	}

	w.Header().Set("Content-Length", strconv.FormatInt(span.Length(), 10))
	w.Header().Set("Content-Range", span.Header(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}

	_, err = io.Copy(w, io.NewSectionReader(body, span.Start, span.Length()))
	return err
}
