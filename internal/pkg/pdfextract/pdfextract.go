package pdfextract

import (
	"bytes"
	"io"

	"github.com/ledongthuc/pdf"
)

// Extract reads all of r and returns the PDF's plain text. A PDF with no
// extractable text yields an empty string and nil error; callers decide
// whether that is acceptable.
func Extract(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", nil
	}
	readerAt := bytes.NewReader(b)
	pdfReader, err := pdf.NewReader(readerAt, int64(len(b)))
	if err != nil {
		return "", err
	}
	plainReader, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plainReader)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
