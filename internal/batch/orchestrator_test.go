package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleantext/ocr-pipeline/internal/engine"
	"github.com/cleantext/ocr-pipeline/internal/models"
	"github.com/cleantext/ocr-pipeline/internal/utils/validator"
	"github.com/cleantext/ocr-pipeline/pkg/logger"
)

func buildPDF(t *testing.T, n int) []byte {
	t.Helper()

	var objs []string
	kids := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			kids += " "
		}
		kids += fmt.Sprintf("%d 0 R", 3+i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n),
	)
	for i := 0; i < n; i++ {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 100] >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, body := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func buildPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// stubRasterizer fabricates one tiny JPEG-ish payload per page without
// touching a real renderer.
type stubRasterizer struct {
	err error
}

func (s *stubRasterizer) Rasterize(ctx context.Context, doc *models.Document, maxPages int) ([]models.Page, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	total := 2
	n := total
	if n > maxPages {
		n = maxPages
	}
	pages := make([]models.Page, n)
	for i := range pages {
		pages[i] = models.Page{
			DocumentName: doc.Name,
			Number:       i + 1,
			Image:        []byte(fmt.Sprintf("page-%d", i+1)),
		}
	}
	return pages, total, nil
}

func (s *stubRasterizer) Thumbnail(ctx context.Context, doc *models.Document) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []byte("thumb:" + doc.Name), nil
}

// stubRecognizer replies from a scripted queue, one reply per call.
type stubRecognizer struct {
	replies []func() (engine.Result, error)
	calls   int
}

func (s *stubRecognizer) Recognize(ctx context.Context, req engine.Request) (engine.Result, []models.EngineAttempt, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.replies) {
		return engine.Result{Text: "text", Engine: "gemini"}, nil, nil
	}
	res, err := s.replies[idx]()
	return res, nil, err
}

func ok(text string) func() (engine.Result, error) {
	return func() (engine.Result, error) {
		return engine.Result{Text: text, Engine: "gemini"}, nil
	}
}

func fail(err error) func() (engine.Result, error) {
	return func() (engine.Result, error) { return engine.Result{}, err }
}

type stubFallback struct {
	text   string
	err    error
	called bool
}

func (s *stubFallback) Name() string { return "tesseract_local" }

func (s *stubFallback) Recognize(ctx context.Context, req engine.Request) (string, error) {
	s.called = true
	return s.text, s.err
}

func newOrchestrator(rec Recognizer, fb Fallback) *Orchestrator {
	return NewOrchestrator(
		validator.NewDocumentValidator(validator.Config{}, logger.NewTestLogger()),
		&stubRasterizer{},
		rec,
		fb,
		Options{MaxPDFPages: 10, Prompt: "transcribe"},
		logger.NewTestLogger(),
	)
}

func collectUpdates(updates *[]models.ProgressUpdate) EmitFunc {
	return func(u models.ProgressUpdate) { *updates = append(*updates, u) }
}

func TestRunAssemblesHeadedBlocks(t *testing.T) {
	rec := &stubRecognizer{replies: []func() (engine.Result, error){
		ok("image text"), ok("page one"), ok("page two"),
	}}
	orch := newOrchestrator(rec, nil)

	var updates []models.ProgressUpdate
	result, err := orch.Run(context.Background(), Request{
		Uploads: []Upload{
			{Name: "scan.png", Data: buildPNG(t)},
			{Name: "report.pdf", Data: buildPDF(t, 2)},
		},
		ClientID: "10.0.0.1",
	}, collectUpdates(&updates))
	require.NoError(t, err)

	require.Len(t, result.Entries, 3)
	assert.Equal(t, "scan.png", result.Entries[0].Document)
	assert.Equal(t, 0, result.Entries[0].Page)
	assert.Equal(t, 1, result.Entries[1].Page)
	assert.Equal(t, 2, result.Entries[2].Page)

	assert.Contains(t, result.Text, "### scan.png\n\nimage text")
	assert.Contains(t, result.Text, "### report.pdf (page 1)\n\npage one")
	assert.Contains(t, result.Text, "### report.pdf (page 2)\n\npage two")

	last := updates[len(updates)-1]
	assert.Equal(t, models.BatchComplete, last.State)
	assert.Equal(t, 100, last.Percent)
}

func TestRunInvalidFileDoesNotAbortBatch(t *testing.T) {
	rec := &stubRecognizer{replies: []func() (engine.Result, error){ok("fine")}}
	orch := newOrchestrator(rec, nil)

	result, err := orch.Run(context.Background(), Request{
		Uploads: []Upload{
			{Name: "notes.txt", Data: []byte("plain text")},
			{Name: "scan.png", Data: buildPNG(t)},
		},
	}, nil)
	require.NoError(t, err)

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "notes.txt", result.Skipped[0].Name)
	assert.Equal(t, validator.CodeInvalidFileType, result.Skipped[0].Code)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "scan.png", result.Entries[0].Document)
}

func TestRunAllInvalidFails(t *testing.T) {
	orch := newOrchestrator(&stubRecognizer{}, nil)

	var updates []models.ProgressUpdate
	result, err := orch.Run(context.Background(), Request{
		Uploads: []Upload{{Name: "notes.txt", Data: []byte("x")}},
	}, collectUpdates(&updates))

	require.ErrorIs(t, err, ErrNoDocuments)
	assert.Len(t, result.Skipped, 1)
	assert.Equal(t, models.BatchFailed, updates[len(updates)-1].State)
}

func TestRunPageFailureFailsBatchKeepingEntries(t *testing.T) {
	boom := &engine.AllFailedError{Attempts: []models.EngineAttempt{
		{Engine: "gemini", Outcome: models.OutcomeError, Detail: "http_503: overloaded"},
	}}
	rec := &stubRecognizer{replies: []func() (engine.Result, error){
		ok("first page"), fail(boom),
	}}
	orch := newOrchestrator(rec, nil)

	var updates []models.ProgressUpdate
	result, err := orch.Run(context.Background(), Request{
		Uploads: []Upload{{Name: "report.pdf", Data: buildPDF(t, 2)}},
	}, collectUpdates(&updates))

	var pageErr *PageError
	require.ErrorAs(t, err, &pageErr)
	assert.Equal(t, "report.pdf", pageErr.Document)
	assert.Equal(t, 2, pageErr.Page)

	require.Len(t, result.Entries, 1)
	assert.Equal(t, "first page", result.Entries[0].Text)
	assert.Equal(t, models.BatchFailed, updates[len(updates)-1].State)
}

func TestRunRasterizeFailureFailsBatch(t *testing.T) {
	orch := NewOrchestrator(
		validator.NewDocumentValidator(validator.Config{}, logger.NewTestLogger()),
		&stubRasterizer{err: errors.New("render exploded")},
		&stubRecognizer{},
		nil,
		Options{MaxPDFPages: 10},
		logger.NewTestLogger(),
	)

	_, err := orch.Run(context.Background(), Request{
		Uploads: []Upload{{Name: "report.pdf", Data: buildPDF(t, 1)}},
	}, nil)

	var pageErr *PageError
	require.ErrorAs(t, err, &pageErr)
	assert.Equal(t, "report.pdf", pageErr.Document)
	assert.Equal(t, 0, pageErr.Page)
}

func TestRunFallbackRescuesPage(t *testing.T) {
	boom := &engine.AllFailedError{Attempts: []models.EngineAttempt{
		{Engine: "gemini", Outcome: models.OutcomeEmpty, Detail: "empty_text"},
	}}
	fb := &stubFallback{text: "rescued text"}
	rec := &stubRecognizer{replies: []func() (engine.Result, error){fail(boom)}}
	orch := newOrchestrator(rec, fb)

	result, err := orch.Run(context.Background(), Request{
		Uploads: []Upload{{Name: "scan.png", Data: buildPNG(t)}},
	}, nil)
	require.NoError(t, err)

	assert.True(t, fb.called)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "rescued text", result.Entries[0].Text)
	assert.Equal(t, "tesseract_local", result.Entries[0].Engine)
}

func TestRunFallbackEmptyStillFails(t *testing.T) {
	boom := &engine.AllFailedError{Attempts: []models.EngineAttempt{
		{Engine: "gemini", Outcome: models.OutcomeError, Detail: "http_500: boom"},
	}}
	fb := &stubFallback{text: "   "}
	rec := &stubRecognizer{replies: []func() (engine.Result, error){fail(boom)}}
	orch := newOrchestrator(rec, fb)

	_, err := orch.Run(context.Background(), Request{
		Uploads: []Upload{{Name: "scan.png", Data: buildPNG(t)}},
	}, nil)

	var allFailed *engine.AllFailedError
	require.ErrorAs(t, err, &allFailed)
	require.Len(t, allFailed.Attempts, 2)
	assert.Equal(t, "tesseract_local", allFailed.Attempts[1].Engine)
	assert.Equal(t, models.OutcomeEmpty, allFailed.Attempts[1].Outcome)
}

func TestRunRateLimitedSkipsFallback(t *testing.T) {
	fb := &stubFallback{text: "should not run"}
	rec := &stubRecognizer{replies: []func() (engine.Result, error){fail(engine.ErrRateLimited)}}
	orch := newOrchestrator(rec, fb)

	_, err := orch.Run(context.Background(), Request{
		Uploads: []Upload{{Name: "scan.png", Data: buildPNG(t)}},
	}, nil)

	require.ErrorIs(t, err, engine.ErrRateLimited)
	assert.False(t, fb.called, "the local engine is a fallback for engine failures, not for throttling")
}

func TestRunProgressIsMonotone(t *testing.T) {
	rec := &stubRecognizer{replies: []func() (engine.Result, error){
		ok("a"), ok("b"), ok("c"), ok("d"),
	}}
	orch := newOrchestrator(rec, nil)

	var updates []models.ProgressUpdate
	_, err := orch.Run(context.Background(), Request{
		Uploads: []Upload{
			{Name: "one.pdf", Data: buildPDF(t, 2)},
			{Name: "two.png", Data: buildPNG(t)},
		},
	}, collectUpdates(&updates))
	require.NoError(t, err)

	require.NotEmpty(t, updates)
	assert.Equal(t, models.BatchUploading, updates[0].State)
	prev := -1
	for _, u := range updates {
		assert.GreaterOrEqual(t, u.Percent, prev, "progress must never move backwards")
		prev = u.Percent
	}
	assert.Equal(t, 100, updates[len(updates)-1].Percent)
}

func TestPreviews(t *testing.T) {
	orch := NewOrchestrator(
		validator.NewDocumentValidator(validator.Config{}, logger.NewTestLogger()),
		&stubRasterizer{},
		&stubRecognizer{},
		nil,
		Options{MaxPDFPages: 2},
		logger.NewTestLogger(),
	)

	imgData := buildPNG(t)
	previews, err := orch.Previews(context.Background(), []Upload{
		{Name: "scan.png", Data: imgData},
		{Name: "long.pdf", Data: buildPDF(t, 3)},
	})
	require.NoError(t, err)
	require.Len(t, previews, 2)

	assert.Equal(t, models.MediaImage, previews[0].Kind)
	assert.Equal(t, imgData, previews[0].Image)
	assert.False(t, previews[0].Truncated)

	assert.Equal(t, models.MediaPDF, previews[1].Kind)
	assert.Equal(t, []byte("thumb:long.pdf"), previews[1].Image)
	assert.Equal(t, 3, previews[1].PageCount)
	assert.True(t, previews[1].Truncated)
}
