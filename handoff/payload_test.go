package handoff

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func dataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

var (
	pdfBytes  = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	jpegBytes = append([]byte{0xff, 0xd8, 0xff, 0xe0}, bytes.Repeat([]byte{0x42}, 32)...)
	pngBytes  = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, bytes.Repeat([]byte{0x42}, 32)...)
)

func TestValidate_AcceptsMatchingContent(t *testing.T) {
	cases := []struct {
		name     string
		fileName string
		fileType string
		data     []byte
	}{
		{"pdf", "termo.pdf", "application/pdf", pdfBytes},
		{"jpeg", "scan.jpg", "image/jpeg", jpegBytes},
		{"jpeg alias", "scan.jpeg", "image/jpg", jpegBytes},
		{"png", "scan.png", "image/png", pngBytes},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &Payload{
				FileName:   tc.fileName,
				FileType:   tc.fileType,
				FileData:   dataURL(tc.fileType, tc.data),
				Prontuario: "12345",
			}
			decoded, err := p.Validate(DefaultMaxPayloadBytes)
			if err != nil {
				t.Fatalf("valid payload rejected: %v", err)
			}
			if !bytes.Equal(decoded, tc.data) {
				t.Fatal("decoded bytes do not match input")
			}
		})
	}
}

func TestValidate_MagicByteMismatch(t *testing.T) {
	// Declared as PDF, named as PDF, but the bytes are a PNG.
	p := &Payload{
		FileName: "x.pdf",
		FileType: "application/pdf",
		FileData: dataURL("application/pdf", pngBytes),
	}
	if _, err := p.Validate(DefaultMaxPayloadBytes); !errors.Is(err, ErrPayloadRejected) {
		t.Fatalf("want ErrPayloadRejected for magic-byte mismatch, got %v", err)
	}
}

func TestValidate_UnrecognizedContent(t *testing.T) {
	p := &Payload{
		FileName: "doc.pdf",
		FileType: "application/pdf",
		FileData: dataURL("application/pdf", []byte("0123456789")),
	}
	if _, err := p.Validate(DefaultMaxPayloadBytes); !errors.Is(err, ErrPayloadRejected) {
		t.Fatalf("want ErrPayloadRejected for unrecognized bytes, got %v", err)
	}
}

func TestValidate_DisallowedDeclaredType(t *testing.T) {
	p := &Payload{
		FileName: "notes.pdf",
		FileType: "text/html",
		FileData: dataURL("text/html", pdfBytes),
	}
	if _, err := p.Validate(DefaultMaxPayloadBytes); !errors.Is(err, ErrPayloadRejected) {
		t.Fatalf("want ErrPayloadRejected for disallowed type, got %v", err)
	}
}

func TestValidate_FileName(t *testing.T) {
	bad := []string{
		"",
		strings.Repeat("a", 256) + ".pdf",
		"../../etc/passwd.pdf",
		"doc;rm -rf.pdf",
		"/absolute.pdf",
		"plain.txt",
		"noextension",
	}
	for _, name := range bad {
		p := &Payload{FileName: name, FileType: "application/pdf", FileData: dataURL("application/pdf", pdfBytes)}
		if _, err := p.Validate(DefaultMaxPayloadBytes); !errors.Is(err, ErrPayloadRejected) {
			t.Fatalf("file name %q must be rejected, got %v", name, err)
		}
	}
}

func TestValidate_SizeCeiling(t *testing.T) {
	big := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte{0x41}, 64)...)
	p := &Payload{FileName: "big.pdf", FileType: "application/pdf", FileData: dataURL("application/pdf", big)}

	if _, err := p.Validate(16); !errors.Is(err, ErrPayloadRejected) {
		t.Fatalf("oversized payload must be rejected, got %v", err)
	}
	if _, err := p.Validate(DefaultMaxPayloadBytes); err != nil {
		t.Fatalf("payload within ceiling rejected: %v", err)
	}
}

func TestValidate_MalformedData(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not a data url", base64.StdEncoding.EncodeToString(pdfBytes)},
		{"no comma", "data:application/pdf;base64"},
		{"bad base64", "data:application/pdf;base64,!!!not-base64!!!"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &Payload{FileName: "doc.pdf", FileType: "application/pdf", FileData: tc.data}
			if _, err := p.Validate(DefaultMaxPayloadBytes); !errors.Is(err, ErrPayloadRejected) {
				t.Fatalf("want ErrPayloadRejected, got %v", err)
			}
		})
	}
}
