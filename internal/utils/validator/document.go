package validator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"net/http"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	ledongpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/cleantext/ocr-pipeline/internal/models"
	"github.com/cleantext/ocr-pipeline/pkg/logger"
)

// Rejection codes carried on ValidationError and surfaced verbatim in the
// skipped-file entries of a batch result.
const (
	CodeFileTooLarge    = "file_too_large"
	CodeInvalidFileType = "invalid_file_type"
	CodeUnreadableFile  = "unreadable_file"
)

// ValidationError rejects a single document. A rejection never aborts the
// batch that carried the document.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FileInfo is what validation learned about an accepted document.
type FileInfo struct {
	Name      string          `json:"name"`
	Size      int64           `json:"size"`
	Extension string          `json:"extension"`
	MimeType  string          `json:"mimeType"`
	Hash      string          `json:"hash"`
	Kind      models.MediaKind `json:"kind"`
	PageCount int             `json:"pageCount,omitempty"`
	Title     string          `json:"title,omitempty"`
	Author    string          `json:"author,omitempty"`
}

// Config bounds what a batch may carry.
type Config struct {
	MaxFileSize  int64
	AllowedTypes map[string][]string
}

func defaultAllowedTypes() map[string][]string {
	return map[string][]string{
		".jpg":  {"image/jpeg"},
		".jpeg": {"image/jpeg"},
		".png":  {"image/png"},
		".gif":  {"image/gif"},
		".pdf":  {"application/pdf"},
	}
}

// DocumentValidator checks uploaded documents before they enter a batch:
// size ceiling, extension allow-list, sniffed MIME agreement, and a
// readability probe appropriate to the media kind.
type DocumentValidator struct {
	cfg    Config
	logger logger.Logger
}

func NewDocumentValidator(cfg Config, log logger.Logger) *DocumentValidator {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 8 * 1024 * 1024
	}
	if cfg.AllowedTypes == nil {
		cfg.AllowedTypes = defaultAllowedTypes()
	}
	return &DocumentValidator{cfg: cfg, logger: log}
}

// Validate checks name and data and returns what it learned. Rejections come
// back as *ValidationError; anything else is an internal failure.
func (v *DocumentValidator) Validate(name string, data []byte) (*FileInfo, error) {
	info := &FileInfo{
		Name:      name,
		Size:      int64(len(data)),
		Extension: strings.ToLower(filepath.Ext(name)),
	}

	if info.Size > v.cfg.MaxFileSize {
		return nil, &ValidationError{
			Code:    CodeFileTooLarge,
			Message: fmt.Sprintf("file size %d exceeds limit of %d bytes", info.Size, v.cfg.MaxFileSize),
			Field:   "size",
		}
	}

	allowedMimes, ok := v.cfg.AllowedTypes[info.Extension]
	if !ok {
		return nil, &ValidationError{
			Code:    CodeInvalidFileType,
			Message: fmt.Sprintf("file type %q is not allowed", info.Extension),
			Field:   "extension",
		}
	}

	info.MimeType = sniffMimeType(data)
	mimeOK := false
	for _, mime := range allowedMimes {
		if mime == info.MimeType {
			mimeOK = true
			break
		}
	}
	if !mimeOK {
		return nil, &ValidationError{
			Code:    CodeInvalidFileType,
			Message: fmt.Sprintf("content type %q does not match extension %q", info.MimeType, info.Extension),
			Field:   "mimeType",
		}
	}

	hash := sha256.Sum256(data)
	info.Hash = hex.EncodeToString(hash[:])

	if info.MimeType == "application/pdf" {
		info.Kind = models.MediaPDF
		if err := v.inspectPDF(data, info); err != nil {
			return nil, err
		}
	} else {
		info.Kind = models.MediaImage
		info.PageCount = 1
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return nil, &ValidationError{
				Code:    CodeUnreadableFile,
				Message: "image data could not be decoded",
				Field:   "data",
			}
		}
	}

	return info, nil
}

// inspectPDF probes readability, counts pages, and picks up Title and Author
// from the document info dictionary when present.
func (v *DocumentValidator) inspectPDF(data []byte, info *FileInfo) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	count, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return &ValidationError{
			Code:    CodeUnreadableFile,
			Message: "pdf structure could not be parsed",
			Field:   "data",
		}
	}
	info.PageCount = count

	// Metadata is best effort; an unreadable info dictionary is not a
	// rejection.
	reader := bytes.NewReader(data)
	pdfReader, err := ledongpdf.NewReader(reader, reader.Size())
	if err != nil {
		v.logger.Debug("PDF metadata unavailable", logger.String("name", info.Name), logger.Error(err))
		return nil
	}
	trailer := pdfReader.Trailer()
	if trailer.IsNull() {
		return nil
	}
	dict := trailer.Key("Info")
	if dict.IsNull() {
		return nil
	}
	if title := dict.Key("Title"); !title.IsNull() {
		info.Title = title.Text()
	}
	if author := dict.Key("Author"); !author.IsNull() {
		info.Author = author.Text()
	}
	return nil
}

// sniffMimeType looks at content, not at what the filename claims.
func sniffMimeType(data []byte) string {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	mime := http.DetectContentType(head)
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	return mime
}
