// Package upload accepts a single user image, enforcing the type and size
// limits, and turns it into an Image with a live preview.
package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pickabook/pickabook-agent/internal/metrics"
	"github.com/pickabook/pickabook-agent/internal/preview"
)

// DefaultMaxBytes is the 5 MiB upload ceiling.
const DefaultMaxBytes = 5 * 1024 * 1024

var (
	ErrRejected        = errors.New("file rejected")
	ErrEmpty           = errors.New("file is empty")
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNoFile          = errors.New("no file provided")
)

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

var allowedTypes = []string{"image/png", "image/jpeg", "image/webp"}

// File is a candidate upload before validation.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type PreviewAcquirer interface {
	Acquire(data []byte, contentType string) *preview.Handle
}

type WidgetConfig struct {
	MaxBytes int64
	Previews PreviewAcquirer
	Logger   *slog.Logger
}

type Widget struct {
	maxBytes int64
	previews PreviewAcquirer
	logger   *slog.Logger
}

func NewWidget(cfg WidgetConfig) *Widget {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Widget{maxBytes: maxBytes, previews: cfg.Previews, logger: logger}
}

func (w *Widget) MaxBytes() int64 {
	return w.maxBytes
}

// Accept takes the first of files and discards the rest. Rejections wrap
// ErrRejected and are meant to be swallowed by the caller.
func (w *Widget) Accept(files []File) (*Image, error) {
	if len(files) == 0 {
		return nil, w.reject("none", "", fmt.Errorf("%w: %w", ErrRejected, ErrNoFile))
	}
	if extra := len(files) - 1; extra > 0 {
		metrics.UploadsRejected.WithLabelValues("extra").Add(float64(extra))
		w.logger.Debug("discarding extra files", "count", extra)
	}

	f := files[0]
	contentType, err := w.Validate(f)
	if err != nil {
		return nil, err
	}

	var h *preview.Handle
	if w.previews != nil {
		h = w.previews.Acquire(f.Data, contentType)
	}

	name := CleanName(f.Name)
	metrics.UploadsAccepted.Inc()
	w.logger.Debug("file accepted", "name", name, "content_type", contentType, "size", len(f.Data))
	return newImage(name, contentType, f.Data, h), nil
}

// Validate checks one file and returns its sniffed content type.
func (w *Widget) Validate(f File) (string, error) {
	if len(f.Data) == 0 {
		return "", w.reject("empty", f.Name, fmt.Errorf("%w: %w", ErrRejected, ErrEmpty))
	}
	if int64(len(f.Data)) > w.maxBytes {
		return "", w.reject("too_large", f.Name, fmt.Errorf("%w: %w: %d bytes", ErrRejected, ErrTooLarge, len(f.Data)))
	}

	ext := strings.ToLower(filepath.Ext(f.Name))
	if !allowedExtensions[ext] {
		return "", w.reject("type", f.Name, fmt.Errorf("%w: %w: extension %q", ErrRejected, ErrUnsupportedType, ext))
	}

	if declared := declaredType(f.ContentType); declared != "" && !strings.HasPrefix(declared, "image/") {
		return "", w.reject("type", f.Name, fmt.Errorf("%w: %w: declared %q", ErrRejected, ErrUnsupportedType, declared))
	}

	sniffed := mimetype.Detect(f.Data)
	if !sniffed.Is(allowedTypes[0]) && !sniffed.Is(allowedTypes[1]) && !sniffed.Is(allowedTypes[2]) {
		return "", w.reject("type", f.Name, fmt.Errorf("%w: %w: content %q", ErrRejected, ErrUnsupportedType, sniffed.String()))
	}

	return sniffedType(sniffed), nil
}

// AcceptMultipart reads the first part of a multipart file field.
func (w *Widget) AcceptMultipart(headers []*multipart.FileHeader) (*Image, error) {
	if len(headers) == 0 {
		return w.Accept(nil)
	}

	fh := headers[0]
	if fh.Size > w.maxBytes {
		return nil, w.reject("too_large", fh.Filename, fmt.Errorf("%w: %w: %d bytes", ErrRejected, ErrTooLarge, fh.Size))
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, w.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	files := []File{{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}}
	if extra := len(headers) - 1; extra > 0 {
		metrics.UploadsRejected.WithLabelValues("extra").Add(float64(extra))
		w.logger.Debug("discarding extra files", "count", extra)
	}
	return w.Accept(files)
}

// AcceptPath reads a file from disk, as the CLI does.
func (w *Widget) AcceptPath(path string) (*Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, w.reject("type", path, fmt.Errorf("%w: %w: is a directory", ErrRejected, ErrUnsupportedType))
	}
	if info.Size() > w.maxBytes {
		return nil, w.reject("too_large", path, fmt.Errorf("%w: %w: %d bytes", ErrRejected, ErrTooLarge, info.Size()))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return w.Accept([]File{{Name: filepath.Base(path), Data: data}})
}

func (w *Widget) reject(reason, name string, err error) error {
	metrics.UploadsRejected.WithLabelValues(reason).Inc()
	w.logger.Debug("file rejected", "reason", reason, "name", name, "error", err)
	return err
}

func declaredType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(v)
	}
	if mt == "application/octet-stream" {
		return ""
	}
	return mt
}

func sniffedType(m *mimetype.MIME) string {
	for _, t := range allowedTypes {
		if m.Is(t) {
			return t
		}
	}
	return m.String()
}
