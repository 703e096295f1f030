package api

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

const defaultFileType = "image/jpeg"

// field is one text part of a multipart body. Order is preserved.
type field struct {
	name  string
	value string
}

// filePart is one file part of a multipart body.
type filePart struct {
	name string // form field name, e.g. "files[]"
	path string
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeMultipart builds a multipart/form-data body in memory and returns it
// with its content type.
func encodeMultipart(fields []field, files []filePart) ([]byte, string, error) {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("api: writing field %s: %w", f.name, err)
		}
	}

	for _, f := range files {
		if err := writeFile(w, f); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("api: closing multipart body: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

func writeFile(w *multipart.Writer, f filePart) error {
	in, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("api: opening %s: %w", f.path, err)
	}
	defer in.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(f.name), quoteEscaper.Replace(filepath.Base(f.path))))
	h.Set("Content-Type", fileType(f.path))

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("api: creating part for %s: %w", f.path, err)
	}

	if _, err := io.Copy(part, in); err != nil {
		return fmt.Errorf("api: copying %s: %w", f.path, err)
	}

	return nil
}

// fileType guesses the MIME type from the extension. Photos without a
// recognizable extension are sent as JPEG.
func fileType(path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}

	return defaultFileType
}

// localFiles strips file:// prefixes and drops remote or empty references.
func localFiles(name string, uris []string) []filePart {
	parts := make([]filePart, 0, len(uris))

	for _, uri := range uris {
		path := strings.TrimPrefix(uri, "file://")
		if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
			continue
		}

		parts = append(parts, filePart{name: name, path: path})
	}

	return parts
}
