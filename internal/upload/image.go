package upload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/pickabook/pickabook-agent/internal/preview"
)

// Image is an accepted upload together with its displayable forms. It owns
// a preview handle until Release is called.
type Image struct {
	Name        string
	ContentType string

	data    []byte
	dataURI string
	preview *preview.Handle
}

func newImage(name, contentType string, data []byte, h *preview.Handle) *Image {
	return &Image{
		Name:        name,
		ContentType: contentType,
		data:        data,
		dataURI:     EncodeDataURI(contentType, data),
		preview:     h,
	}
}

// Bytes returns the raw file content. Callers must not modify it.
func (i *Image) Bytes() []byte {
	return i.data
}

func (i *Image) Size() int64 {
	return int64(len(i.data))
}

// DataURI is the self-contained displayable representation.
func (i *Image) DataURI() string {
	return i.dataURI
}

// PreviewURL is the short-lived URL the page renders. Without a preview
// store it is the data URI.
func (i *Image) PreviewURL() string {
	if i.preview == nil {
		return i.dataURI
	}
	return i.preview.Path
}

// Release frees the preview reference. It is idempotent.
func (i *Image) Release() {
	if i == nil || i.preview == nil {
		return
	}
	i.preview.Release()
}

func EncodeDataURI(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

var errBadDataURI = errors.New("malformed data uri")

// DecodeDataURI reverses EncodeDataURI.
func DecodeDataURI(uri string) (contentType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, errBadDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errBadDataURI
	}
	contentType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", errBadDataURI)
	}

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", errBadDataURI, err)
	}
	return contentType, data, nil
}
