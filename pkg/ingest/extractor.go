// Package ingest turns uploaded bytes into plain text.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var ErrUnsupportedFormat = errors.New("unsupported document format")

// Formats handled by MuPDF.
var fitzFormats = map[string]bool{
	"pdf":  true,
	"epub": true,
	"xps":  true,
	"cbz":  true,
	"fb2":  true,
	"mobi": true,
}

type namedEncoding struct {
	name string
	enc  encoding.Encoding
}

// Tried in order after UTF-8.
var fallbackEncodings = []namedEncoding{
	{name: "windows-1251", enc: charmap.Windows1251},
	{name: "iso-8859-5", enc: charmap.ISO8859_5},
	{name: "latin-1", enc: charmap.ISO8859_1},
	{name: "utf-16", enc: unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)},
}

// Extension normalises a filename or extension to a lowercase extension without the dot.
func Extension(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" && !strings.Contains(filename, ".") {
		ext = filename
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ExtractText returns the text content of data. ext is the declared extension
// ("pdf", ".txt", "notes.md" all work).
func ExtractText(data []byte, ext string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrUnsupportedFormat)
	}

	ext = Extension(ext)
	sniffed := http.DetectContentType(data)

	var (
		text string
		err  error
	)
	switch {
	case fitzFormats[ext] || sniffed == "application/pdf":
		text, err = extractWithFitz(data)
	case isBinary(sniffed):
		return "", fmt.Errorf("%w: %s content", ErrUnsupportedFormat, sniffed)
	default:
		text, err = DecodeText(data)
	}
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: no text found", ErrUnsupportedFormat)
	}
	return text, nil
}

func extractWithFitz(data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("%w: open document: %v", ErrUnsupportedFormat, err)
	}
	defer doc.Close()

	var sb strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i+1, err)
		}
		sb.WriteString(pageText)
	}
	return sb.String(), nil
}

// DecodeText decodes plain text trying UTF-8 first and then the legacy encodings
// our users send most.
func DecodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))), nil
	}

	for _, ne := range fallbackEncodings {
		out, err := ne.enc.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		// undefined code points decode to U+FFFD instead of failing
		if bytes.ContainsRune(out, utf8.RuneError) {
			continue
		}
		return string(out), nil
	}

	return "", fmt.Errorf("%w: unknown text encoding", ErrUnsupportedFormat)
}

func isBinary(contentType string) bool {
	for _, prefix := range []string{"image/", "audio/", "video/", "application/zip", "application/x-gzip", "application/x-rar-compressed", "font/"} {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}
