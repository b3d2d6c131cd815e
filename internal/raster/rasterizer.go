// Package raster turns PDF documents into ordered page images for the
// recognition pipeline. Rendering goes through MuPDF (go-fitz); encoding is
// lossy JPEG, chosen for transmission size over pixel fidelity since the
// consumer is a recognition engine, not a human viewer.
package raster

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"

	"github.com/cleantext/ocr-pipeline/internal/models"
	"github.com/cleantext/ocr-pipeline/pkg/logger"
)

// baseDPI is the PDF unit resolution; render DPI is baseDPI * scale.
const baseDPI = 72.0

// Error wraps any failure while rasterizing one document. A failing page
// fails the whole call, so callers never see a partial page list.
type Error struct {
	Document string
	Page     int // 0 when the document itself is unreadable
	Err      error
}

func (e *Error) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("rasterize %s page %d: %v", e.Document, e.Page, e.Err)
	}
	return fmt.Sprintf("rasterize %s: %v", e.Document, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options control render scale and encode quality.
type Options struct {
	Scale        float64 // 1.0 = 72 DPI; low scale hurts OCR clarity, very high scale risks huge buffers
	JPEGQuality  int
	ThumbScale   float64
	ThumbQuality int
}

// Rasterizer renders PDFs to page images.
type Rasterizer struct {
	opts   Options
	logger logger.Logger
}

func New(opts Options, log logger.Logger) *Rasterizer {
	if opts.Scale <= 0 {
		opts.Scale = 2.0
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 80
	}
	if opts.ThumbScale <= 0 {
		opts.ThumbScale = 1.0
	}
	if opts.ThumbQuality <= 0 {
		opts.ThumbQuality = 70
	}
	return &Rasterizer{opts: opts, logger: log}
}

// Rasterize renders pages 1..min(count, maxPages) of doc in strictly
// increasing order. Pages beyond the cap are silently dropped; the returned
// total lets the caller surface the cap. Any page failure fails the whole
// call with *Error.
func (r *Rasterizer) Rasterize(ctx context.Context, doc *models.Document, maxPages int) ([]models.Page, int, error) {
	fdoc, err := fitz.NewFromMemory(doc.Data)
	if err != nil {
		return nil, 0, &Error{Document: doc.Name, Err: fmt.Errorf("open pdf: %w", err)}
	}
	defer fdoc.Close()

	total := fdoc.NumPage()
	n := total
	if maxPages > 0 && n > maxPages {
		n = maxPages
	}

	pages := make([]models.Page, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, total, &Error{Document: doc.Name, Page: i + 1, Err: err}
		}

		img, err := fdoc.ImageDPI(i, baseDPI*r.opts.Scale)
		if err != nil {
			return nil, total, &Error{Document: doc.Name, Page: i + 1, Err: fmt.Errorf("render: %w", err)}
		}

		buf := new(bytes.Buffer)
		if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(r.opts.JPEGQuality)); err != nil {
			return nil, total, &Error{Document: doc.Name, Page: i + 1, Err: fmt.Errorf("encode: %w", err)}
		}

		pages = append(pages, models.Page{
			DocumentName: doc.Name,
			Number:       i + 1,
			Image:        buf.Bytes(),
			Scale:        r.opts.Scale,
		})
	}

	if total > n {
		r.logger.Info("Page cap applied",
			logger.String("document", doc.Name),
			logger.Int("pages", total),
			logger.Int("rendered", n),
		)
	}

	return pages, total, nil
}

// Thumbnail renders only page 1 at reduced scale, for previews. Independent
// of the extraction path.
func (r *Rasterizer) Thumbnail(ctx context.Context, doc *models.Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fdoc, err := fitz.NewFromMemory(doc.Data)
	if err != nil {
		return nil, &Error{Document: doc.Name, Err: fmt.Errorf("open pdf: %w", err)}
	}
	defer fdoc.Close()

	if fdoc.NumPage() == 0 {
		return nil, &Error{Document: doc.Name, Err: fmt.Errorf("pdf has no pages")}
	}

	img, err := fdoc.ImageDPI(0, baseDPI*r.opts.ThumbScale)
	if err != nil {
		return nil, &Error{Document: doc.Name, Page: 1, Err: fmt.Errorf("render: %w", err)}
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(r.opts.ThumbQuality)); err != nil {
		return nil, &Error{Document: doc.Name, Page: 1, Err: fmt.Errorf("encode: %w", err)}
	}
	return buf.Bytes(), nil
}

// PageCount opens the document just far enough to count pages. Used during
// validation so batch progress totals are known before processing starts.
func (r *Rasterizer) PageCount(doc *models.Document) (int, error) {
	fdoc, err := fitz.NewFromMemory(doc.Data)
	if err != nil {
		return 0, &Error{Document: doc.Name, Err: fmt.Errorf("open pdf: %w", err)}
	}
	defer fdoc.Close()
	return fdoc.NumPage(), nil
}
