// Package export renders a task version as HTML, PDF or DOCX.
package export

import "errors"

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatHTML, FormatDOCX:
		return Format(raw), nil
	}
	return "", ErrUnsupportedFormat
}

// Request contains parameters for an export operation. An empty VersionID
// exports the task's current version.
type Request struct {
	TaskID          string
	VersionID       string
	Format          Format
	IncludeComments bool
}

// Result contains the export output. ObjectKey and URL are set when the file
// was also uploaded to object storage.
type Result struct {
	Data      []byte `json:"-"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	ObjectKey string `json:"objectKey,omitempty"`
	URL       string `json:"url,omitempty"`
}

var (
	ErrUnsupportedFormat     = errors.New("export format unsupported")
	ErrContentUnavailable    = errors.New("export content unavailable")
	ErrPDFDependencyMissing  = errors.New("export pdf dependency missing")
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
