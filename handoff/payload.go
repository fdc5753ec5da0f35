package handoff

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPayloadRejected indicates the submitted payload failed validation. It
// is terminal for the call only; the session remains usable up to its quota.
var ErrPayloadRejected = errors.New("handoff: payload rejected")

// Payload is the wire shape a mobile client submits. FileData is a base64
// data URL ("data:<type>;base64,<data>").
type Payload struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileData string `json:"fileData"`
	// Prontuario is the owner-supplied correlation key: the medical record
	// number the scanned document belongs to.
	Prontuario string `json:"prontuario"`
}

// StoredPayload is the envelope staged in the object store for the desktop
// to collect.
type StoredPayload struct {
	FileName   string    `json:"fileName"`
	FileType   string    `json:"fileType"`
	FileData   string    `json:"fileData"`
	Prontuario string    `json:"prontuario"`
	UploadedAt time.Time `json:"timestamp"`
}

var allowedTypes = map[string]string{
	"application/pdf": "application/pdf",
	"image/jpeg":      "image/jpeg",
	"image/jpg":       "image/jpeg",
	"image/png":       "image/png",
}

var allowedExtensions = []string{".pdf", ".jpg", ".jpeg", ".png"}

// Characters that allow path traversal or shell metacharacter tricks in a
// file name.
var dangerousSubstrings = []string{"..", "/", "\\", "<", ">", ":", "\"", "|", "?", "*", ";", "&", "`", "$"}

var (
	pdfMagic  = []byte("%PDF")
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
)

// sniffType derives the content type from the payload's byte signature.
// Returns "" for unrecognized content.
func sniffType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, pdfMagic):
		return "application/pdf"
	case bytes.HasPrefix(data, jpegMagic):
		return "image/jpeg"
	case bytes.HasPrefix(data, pngMagic):
		return "image/png"
	}
	return ""
}

// Validate checks the payload against the configured size ceiling and
// returns the decoded file bytes. The declared MIME type is never trusted on
// its own: the byte signature must both be recognized and agree with it.
func (p *Payload) Validate(maxBytes int64) ([]byte, error) {
	if err := validateFileName(p.FileName); err != nil {
		return nil, err
	}

	declared, ok := allowedTypes[p.FileType]
	if !ok {
		return nil, fmt.Errorf("%w: file type %q not allowed", ErrPayloadRejected, p.FileType)
	}

	if !strings.HasPrefix(p.FileData, "data:") {
		return nil, fmt.Errorf("%w: file data is not a data URL", ErrPayloadRejected)
	}
	_, b64, ok := strings.Cut(p.FileData, ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data URL", ErrPayloadRejected)
	}
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 data", ErrPayloadRejected)
	}

	if int64(len(decoded)) > maxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrPayloadRejected, maxBytes)
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrPayloadRejected)
	}

	actual := sniffType(decoded)
	if actual == "" {
		return nil, fmt.Errorf("%w: unrecognized or corrupt file content", ErrPayloadRejected)
	}
	if actual != declared {
		return nil, fmt.Errorf("%w: declared type %s does not match content (%s)", ErrPayloadRejected, p.FileType, actual)
	}

	return decoded, nil
}

func validateFileName(name string) error {
	if name == "" || len(name) > 255 {
		return fmt.Errorf("%w: invalid file name length", ErrPayloadRejected)
	}
	for _, sub := range dangerousSubstrings {
		if strings.Contains(name, sub) {
			return fmt.Errorf("%w: file name contains forbidden characters", ErrPayloadRejected)
		}
	}
	lower := strings.ToLower(name)
	for _, ext := range allowedExtensions {
		if strings.HasSuffix(lower, ext) {
			return nil
		}
	}
	return fmt.Errorf("%w: file extension not allowed", ErrPayloadRejected)
}
