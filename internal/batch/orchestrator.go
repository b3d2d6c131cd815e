package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cleantext/ocr-pipeline/internal/engine"
	"github.com/cleantext/ocr-pipeline/internal/models"
	"github.com/cleantext/ocr-pipeline/internal/utils/validator"
	"github.com/cleantext/ocr-pipeline/pkg/logger"
)

// ErrNoDocuments means every upload in the batch was rejected during
// validation, leaving nothing to process.
var ErrNoDocuments = errors.New("batch contains no processable documents")

// Upload is one submitted file, name and raw bytes.
type Upload struct {
	Name string
	Data []byte
}

// Request is one batch run.
type Request struct {
	Uploads       []Upload
	ClientID      string
	ForceFallback bool
}

// PageError scopes a processing failure to the document and page that caused
// it. Any PageError terminates the batch.
type PageError struct {
	Document string
	Page     int
	Err      error
}

func (e *PageError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("%s page %d: %v", e.Document, e.Page, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Document, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// Rasterizer renders PDF documents into per-page images.
type Rasterizer interface {
	Rasterize(ctx context.Context, doc *models.Document, maxPages int) ([]models.Page, int, error)
	Thumbnail(ctx context.Context, doc *models.Document) ([]byte, error)
}

// Recognizer extracts text from one image, reporting every engine attempt.
type Recognizer interface {
	Recognize(ctx context.Context, req engine.Request) (engine.Result, []models.EngineAttempt, error)
}

// Fallback is the last-resort local engine, consulted only after every
// remote backend has failed.
type Fallback interface {
	Name() string
	Recognize(ctx context.Context, req engine.Request) (string, error)
}

// EmitFunc receives progress updates as the batch advances.
type EmitFunc func(models.ProgressUpdate)

// Options tune a batch run.
type Options struct {
	MaxPDFPages int
	Prompt      string
}

// Orchestrator drives one batch through Uploading and Processing to a
// terminal state. Documents are handled strictly in submission order and
// pages strictly in page order; there is no intra-batch parallelism.
type Orchestrator struct {
	validator  *validator.DocumentValidator
	rasterizer Rasterizer
	recognizer Recognizer
	fallback   Fallback
	opts       Options
	logger     logger.Logger
}

func NewOrchestrator(v *validator.DocumentValidator, r Rasterizer, rec Recognizer, fb Fallback, opts Options, log logger.Logger) *Orchestrator {
	if opts.MaxPDFPages <= 0 {
		opts.MaxPDFPages = 10
	}
	return &Orchestrator{
		validator:  v,
		rasterizer: r,
		recognizer: rec,
		fallback:   fb,
		opts:       opts,
		logger:     log,
	}
}

// docPlan is one accepted document with its step budget. A PDF costs one
// conversion step plus one recognition step per rendered page; an image
// costs a single recognition step.
type docPlan struct {
	doc   *models.Document
	pages int
}

func (p docPlan) steps() int {
	if p.doc.Kind == models.MediaPDF {
		return 1 + p.pages
	}
	return 1
}

// Run executes the batch. The returned result always carries whatever
// entries and skip records were accumulated, even when the batch fails;
// the error is the batch outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit EmitFunc) (*models.ExtractionResult, error) {
	if emit == nil {
		emit = func(models.ProgressUpdate) {}
	}

	result := &models.ExtractionResult{}

	emit(models.ProgressUpdate{
		State:   models.BatchUploading,
		Status:  fmt.Sprintf("Validating %d file(s)", len(req.Uploads)),
		Percent: 0,
	})

	plans := o.validate(req.Uploads, result)
	if len(plans) == 0 {
		emit(models.ProgressUpdate{State: models.BatchFailed, Status: "No processable documents"})
		return result, ErrNoDocuments
	}

	totalSteps := 0
	for _, p := range plans {
		totalSteps += p.steps()
	}

	done := 0
	percent := func() int { return done * 100 / totalSteps }

	for _, plan := range plans {
		if err := o.processDocument(ctx, req, plan, result, emit, &done, percent); err != nil {
			emit(models.ProgressUpdate{
				State:    models.BatchFailed,
				Status:   fmt.Sprintf("Failed on %s", plan.doc.Name),
				Document: plan.doc.Name,
				Percent:  percent(),
			})
			return result, err
		}
	}

	o.assemble(result)
	emit(models.ProgressUpdate{
		State:   models.BatchComplete,
		Status:  fmt.Sprintf("Extracted text from %d document(s)", len(plans)),
		Percent: 100,
	})
	return result, nil
}

// validate filters the uploads. Rejected files are recorded on the result
// and never abort the batch.
func (o *Orchestrator) validate(uploads []Upload, result *models.ExtractionResult) []docPlan {
	var plans []docPlan
	for _, up := range uploads {
		info, err := o.validator.Validate(up.Name, up.Data)
		if err != nil {
			var verr *validator.ValidationError
			if errors.As(err, &verr) {
				o.logger.Info("Document rejected",
					logger.String("name", up.Name),
					logger.String("code", verr.Code),
				)
				result.Skipped = append(result.Skipped, models.SkippedDocument{
					Name:   up.Name,
					Code:   verr.Code,
					Reason: verr.Message,
				})
				continue
			}
			result.Skipped = append(result.Skipped, models.SkippedDocument{
				Name:   up.Name,
				Code:   validator.CodeUnreadableFile,
				Reason: err.Error(),
			})
			continue
		}

		pages := info.PageCount
		if info.Kind == models.MediaPDF && pages > o.opts.MaxPDFPages {
			pages = o.opts.MaxPDFPages
		}
		plans = append(plans, docPlan{
			doc: &models.Document{
				Name:     up.Name,
				Size:     info.Size,
				Kind:     info.Kind,
				MimeType: info.MimeType,
				Data:     up.Data,
			},
			pages: pages,
		})
	}
	return plans
}

func (o *Orchestrator) processDocument(ctx context.Context, req Request, plan docPlan, result *models.ExtractionResult, emit EmitFunc, done *int, percent func() int) error {
	doc := plan.doc

	if doc.Kind == models.MediaImage {
		emit(models.ProgressUpdate{
			State:     models.BatchProcessing,
			Status:    fmt.Sprintf("Extracting text from %s", doc.Name),
			Document:  doc.Name,
			PageCount: 1,
			Percent:   percent(),
		})
		entry, err := o.runJob(ctx, req, &models.ExtractionJob{
			Page: models.Page{DocumentName: doc.Name, Image: doc.Data},
		}, doc.MimeType)
		if err != nil {
			return &PageError{Document: doc.Name, Err: err}
		}
		*done++
		result.Entries = append(result.Entries, entry)
		return nil
	}

	emit(models.ProgressUpdate{
		State:     models.BatchProcessing,
		Status:    fmt.Sprintf("Converting %s", doc.Name),
		Document:  doc.Name,
		PageCount: plan.pages,
		Percent:   percent(),
	})
	pages, total, err := o.rasterizer.Rasterize(ctx, doc, o.opts.MaxPDFPages)
	if err != nil {
		return &PageError{Document: doc.Name, Err: err}
	}
	*done++
	if total > len(pages) {
		o.logger.Info("Document truncated to page cap",
			logger.String("name", doc.Name),
			logger.Int("pages", total),
			logger.Int("cap", o.opts.MaxPDFPages),
		)
	}

	jobs := make([]models.ExtractionJob, len(pages))
	for i, page := range pages {
		jobs[i] = models.ExtractionJob{Page: page, State: models.JobPending}
	}

	for i := range jobs {
		job := &jobs[i]
		emit(models.ProgressUpdate{
			State:     models.BatchProcessing,
			Status:    fmt.Sprintf("Extracting text from %s (page %d/%d)", doc.Name, job.Page.Number, len(jobs)),
			Document:  doc.Name,
			Page:      job.Page.Number,
			PageCount: len(jobs),
			Percent:   percent(),
		})
		entry, err := o.runJob(ctx, req, job, "image/jpeg")
		if err != nil {
			return &PageError{Document: doc.Name, Page: job.Page.Number, Err: err}
		}
		*done++
		result.Entries = append(result.Entries, entry)
	}
	return nil
}

// runJob drives one per-page work item through the engines, tracking its
// state and attempt count on the job itself.
func (o *Orchestrator) runJob(ctx context.Context, req Request, job *models.ExtractionJob, mimeType string) (models.ExtractionEntry, error) {
	job.State = models.JobRunning

	text, engineName, attempts, err := o.recognize(ctx, req, job.Page.Image, mimeType)
	job.Attempts = attempts
	if err != nil {
		job.State = models.JobFailed
		job.LastErr = err.Error()
		return models.ExtractionEntry{}, err
	}

	job.State = models.JobDone
	return models.ExtractionEntry{
		Document: job.Page.DocumentName,
		Page:     job.Page.Number,
		Text:     text,
		Engine:   engineName,
	}, nil
}

// recognize runs the engine chain and, when every remote backend has
// failed, gives the local fallback one try before giving up. It reports how
// many engine calls were attempted in total.
func (o *Orchestrator) recognize(ctx context.Context, req Request, image []byte, mimeType string) (string, string, int, error) {
	engReq := engine.Request{
		Image:         image,
		MimeType:      mimeType,
		Prompt:        o.opts.Prompt,
		ClientID:      req.ClientID,
		ForceFallback: req.ForceFallback,
	}

	res, attempts, err := o.recognizer.Recognize(ctx, engReq)
	if err == nil {
		return res.Text, res.Engine, len(attempts), nil
	}

	var allFailed *engine.AllFailedError
	if o.fallback == nil || !errors.As(err, &allFailed) {
		return "", "", len(attempts), err
	}

	o.logger.Warn("All remote engines failed, trying local fallback", logger.Error(err))
	text, fbErr := o.fallback.Recognize(ctx, engReq)
	if fbErr != nil || strings.TrimSpace(text) == "" {
		if fbErr != nil {
			allFailed.Attempts = append(allFailed.Attempts, models.EngineAttempt{
				Engine:  o.fallback.Name(),
				Outcome: models.OutcomeError,
				Detail:  fbErr.Error(),
			})
		} else {
			allFailed.Attempts = append(allFailed.Attempts, models.EngineAttempt{
				Engine:  o.fallback.Name(),
				Outcome: models.OutcomeEmpty,
				Detail:  "empty_text",
			})
		}
		return "", "", len(allFailed.Attempts), allFailed
	}
	return strings.TrimSpace(text), o.fallback.Name(), len(allFailed.Attempts) + 1, nil
}

// assemble builds the concatenated text, one headed block per entry.
func (o *Orchestrator) assemble(result *models.ExtractionResult) {
	blocks := make([]string, 0, len(result.Entries))
	for _, entry := range result.Entries {
		header := fmt.Sprintf("### %s", entry.Document)
		if entry.Page > 0 {
			header = fmt.Sprintf("### %s (page %d)", entry.Document, entry.Page)
		}
		blocks = append(blocks, header+"\n\n"+entry.Text)
	}
	result.Text = strings.Join(blocks, "\n\n")
}

// Previews renders lightweight client previews for a set of uploads,
// concurrently since each document is independent.
func (o *Orchestrator) Previews(ctx context.Context, uploads []Upload) ([]models.DocumentPreview, error) {
	previews := make([]models.DocumentPreview, len(uploads))
	g, ctx := errgroup.WithContext(ctx)

	for i, up := range uploads {
		g.Go(func() error {
			info, err := o.validator.Validate(up.Name, up.Data)
			if err != nil {
				return fmt.Errorf("preview %s: %w", up.Name, err)
			}
			preview := models.DocumentPreview{
				Document:  up.Name,
				Kind:      info.Kind,
				PageCount: info.PageCount,
				Title:     info.Title,
				Author:    info.Author,
			}
			if info.Kind == models.MediaPDF {
				doc := &models.Document{Name: up.Name, Kind: info.Kind, MimeType: info.MimeType, Data: up.Data}
				thumb, err := o.rasterizer.Thumbnail(ctx, doc)
				if err != nil {
					return fmt.Errorf("preview %s: %w", up.Name, err)
				}
				preview.Image = thumb
				preview.Truncated = info.PageCount > o.opts.MaxPDFPages
			} else {
				preview.Image = up.Data
			}
			previews[i] = preview
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return previews, nil
}
