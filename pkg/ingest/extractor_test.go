package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

func TestExtractTextPlain(t *testing.T) {
	cp1251, err := charmap.Windows1251.NewEncoder().Bytes([]byte("Привет, Маргарита"))
	require.NoError(t, err)

	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte("hi"))
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		ext  string
		want string
	}{
		{name: "utf-8", data: []byte("hello мир"), ext: "txt", want: "hello мир"},
		{name: "utf-8 with bom", data: []byte("\xef\xbb\xbfhello"), ext: ".txt", want: "hello"},
		{name: "windows-1251", data: cp1251, ext: "notes.txt", want: "Привет, Маргарита"},
		{name: "unknown extension is treated as text", data: []byte("plain"), ext: "md", want: "plain"},
		{name: "utf-16 with bom decodes as some text", data: utf16, ext: "txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractText(tt.data, tt.ext)
			require.NoError(t, err)
			if tt.want != "" {
				assert.Equal(t, tt.want, got)
			} else {
				assert.NotEmpty(t, got)
			}
		})
	}
}

func TestExtractTextRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		ext  string
	}{
		{name: "empty file", data: nil, ext: "txt"},
		{name: "whitespace only", data: []byte(" \n\t "), ext: "txt"},
		{name: "png image", data: []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), ext: "png"},
		{name: "zip archive", data: []byte("PK\x03\x04\x14\x00\x00\x00"), ext: "docx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractText(tt.data, tt.ext)
			assert.ErrorIs(t, err, ErrUnsupportedFormat)
		})
	}
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "pdf", Extension("pdf"))
	assert.Equal(t, "txt", Extension(".TXT"))
	assert.Equal(t, "md", Extension("notes.v2.md"))
	assert.Equal(t, "", Extension(""))
}
