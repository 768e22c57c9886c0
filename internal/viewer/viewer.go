// Package viewer is the before/after result display. A View renders nothing
// by itself; regenerate and download are delegated to the actions it is
// given. Save is the download action used outside the browser.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pickabook/pickabook-agent/internal/processing"
)

// DownloadFilename is the suggested name for a saved illustration.
const DownloadFilename = "pickabook-illustration.png"

var ErrNoAction = errors.New("action not available")

type Actions struct {
	Regenerate func() error
	Download   func() error
}

// View is an original/processed pair plus the caller's actions.
type View struct {
	Original  string `json:"original"`
	Processed string `json:"processed"`

	actions Actions
}

func New(original, processed string, actions Actions) *View {
	return &View{Original: original, Processed: processed, actions: actions}
}

func (v *View) Regenerate() error {
	if v.actions.Regenerate == nil {
		return ErrNoAction
	}
	return v.actions.Regenerate()
}

func (v *View) Download() error {
	if v.actions.Download == nil {
		return ErrNoAction
	}
	return v.actions.Download()
}

// DownloadLink is an anchor that saves the result under the suggested name.
type DownloadLink struct {
	Href     string `json:"href"`
	Filename string `json:"filename"`
}

func Link(resultURL string) DownloadLink {
	return DownloadLink{Href: resultURL, Filename: DownloadFilename}
}

type Fetcher interface {
	Fetch(ctx context.Context, resultURL string) (*processing.Download, error)
}

// Save downloads resultURL into dir under DownloadFilename and returns the
// written path. The file is written to a temp name and renamed into place.
func Save(ctx context.Context, f Fetcher, resultURL, dir string) (string, error) {
	dl, err := f.Fetch(ctx, resultURL)
	if err != nil {
		return "", fmt.Errorf("fetch result: %w", err)
	}
	defer dl.Body.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pickabook-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, dl.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	dest := filepath.Join(dir, DownloadFilename)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("rename result: %w", err)
	}
	return dest, nil
}
