// Package qr renders batch trace URLs as PNG QR codes and packs them into
// data URIs suitable for storing on the batch record.
package qr

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const dataURIPrefix = "data:image/png;base64,"

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 300

// Image is one rendered QR code.
type Image struct {
	URL     string
	PNG     []byte
	DataURI string
}

// Encoder renders the public trace URL of a batch.
type Encoder struct {
	baseURL string
	size    int
	level   qrcode.RecoveryLevel
}

func NewEncoder(baseURL string, size int) *Encoder {
	if size <= 0 {
		size = DefaultSize
	}
	return &Encoder{
		baseURL: strings.TrimRight(baseURL, "/"),
		size:    size,
		level:   qrcode.Medium,
	}
}

// URL is the page a scan of the batch's code should open.
func (e *Encoder) URL(batchCode string) string {
	return e.baseURL + "/batch/" + url.PathEscape(batchCode)
}

// Synthesize renders the QR image for batchCode.
func (e *Encoder) Synthesize(batchCode string) (*Image, error) {
	if batchCode == "" {
		return nil, errors.New("empty batch code")
	}
	target := e.URL(batchCode)
	png, err := qrcode.Encode(target, e.level, e.size)
	if err != nil {
		return nil, fmt.Errorf("encode qr for %s: %w", batchCode, err)
	}
	return &Image{URL: target, PNG: png, DataURI: DataURI(png)}, nil
}

// DataURI wraps PNG bytes as a base64 data URI.
func DataURI(png []byte) string {
	return dataURIPrefix + base64.StdEncoding.EncodeToString(png)
}

// DecodeDataURI returns the PNG bytes held by a data URI produced by DataURI.
func DecodeDataURI(uri string) ([]byte, error) {
	payload, ok := strings.CutPrefix(uri, dataURIPrefix)
	if !ok {
		return nil, errors.New("not a png data uri")
	}
	png, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data uri: %w", err)
	}
	return png, nil
}
