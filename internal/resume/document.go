package resume

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"
	"github.com/spigell/talent-screener/internal/model"
)

// MaxDocumentSize bounds uploaded documents.
const MaxDocumentSize = 10 << 20

var supportedExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".odt":  true,
	".rtf":  true,
	".txt":  true,
	".md":   true,
}

// Supported reports whether the file extension can be converted to text.
func Supported(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// NormalizeDocument extracts the text body of an uploaded resume and builds a
// manual Resume from it.
func NormalizeDocument(filename string, r io.Reader) (*model.Resume, error) {
	text, err := DocumentText(filename, r)
	if err != nil {
		return nil, err
	}
	return FromText(text, nameFromFilename(filename))
}

// DocumentText converts a resume document to plain text.
func DocumentText(filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !supportedExtensions[ext] {
		return "", fmt.Errorf("%w: unsupported file type %q", ErrUnparsableInput, ext)
	}

	limited := io.LimitReader(r, MaxDocumentSize)

	if ext == ".txt" || ext == ".md" {
		data, err := io.ReadAll(limited)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", filename, err)
		}
		return string(data), nil
	}

	res, err := docconv.Convert(limited, docconv.MimeTypeByExtension(filename), true)
	if err != nil {
		return "", fmt.Errorf("%w: converting %s: %v", ErrUnparsableInput, filename, err)
	}
	return res.Body, nil
}
