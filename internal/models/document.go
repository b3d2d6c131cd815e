package models

import (
	"time"
)

// MediaKind classifies a submitted file.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaPDF   MediaKind = "pdf"
)

// Document is one user-submitted file. It owns its raw bytes until the
// orchestrator has turned it into pages, after which the bytes can be dropped.
type Document struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Kind     MediaKind `json:"kind"`
	MimeType string    `json:"mimeType"`
	Data     []byte    `json:"-"`
}

// Page is one unit of recognizable content. PDFs yield one Page per rendered
// page; a plain image is carried as a single Page with Number 0, meaning no
// pagination.
type Page struct {
	DocumentName string  `json:"documentName"`
	Number       int     `json:"number"` // 1-based, stable within a document
	Image        []byte  `json:"-"`
	Scale        float64 `json:"scale"`
}

// JobState tracks one page's extraction job.
type JobState string

const (
	JobPending JobState = "pending"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// ExtractionJob is the orchestrator's per-page work item.
type ExtractionJob struct {
	Page     Page
	State    JobState
	Attempts int
	LastErr  string
}

// AttemptOutcome is the result class of a single engine call.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeEmpty   AttemptOutcome = "empty"
	OutcomeError   AttemptOutcome = "error"
	OutcomeSkipped AttemptOutcome = "skipped"
)

// EngineAttempt records one call to one backend for one page. Kept only for
// diagnostics and fallback decisions.
type EngineAttempt struct {
	Engine  string         `json:"engine"`
	Outcome AttemptOutcome `json:"outcome"`
	Latency time.Duration  `json:"latencyMs"`
	Detail  string         `json:"detail,omitempty"`
}

// ExtractionEntry is one (document, page, text) tuple of the final result.
// Page is 0 for plain images submitted without pagination.
type ExtractionEntry struct {
	Document string `json:"document"`
	Page     int    `json:"page,omitempty"`
	Text     string `json:"text"`
	Engine   string `json:"engine"`
}

// SkippedDocument records a file excluded during validation. The batch
// continues without it.
type SkippedDocument struct {
	Name   string `json:"name"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// ExtractionResult is the terminal output of a batch. Entries preserve
// submission order, then page order within a document. Text is the assembled
// concatenation with per-section headers.
type ExtractionResult struct {
	Entries []ExtractionEntry `json:"entries"`
	Skipped []SkippedDocument `json:"skipped,omitempty"`
	Text    string            `json:"text"`
}

// BatchState is the orchestrator's batch-level state machine.
type BatchState string

const (
	BatchIdle       BatchState = "idle"
	BatchUploading  BatchState = "uploading"
	BatchProcessing BatchState = "processing"
	BatchComplete   BatchState = "complete"
	BatchFailed     BatchState = "failed"
)

// ProgressUpdate is emitted before each batch step. Percent is a monotone
// non-decreasing estimate computed as completed steps over total steps.
type ProgressUpdate struct {
	State     BatchState `json:"state"`
	Status    string     `json:"status"`
	Document  string     `json:"document,omitempty"`
	Page      int        `json:"page,omitempty"`
	PageCount int        `json:"pageCount,omitempty"`
	Percent   int        `json:"percent"`
}

// DocumentPreview is produced during the Uploading phase: a thumbnail for
// PDFs, the raw bytes for images, plus whatever metadata could be read.
type DocumentPreview struct {
	Document  string    `json:"document"`
	Kind      MediaKind `json:"kind"`
	Image     []byte    `json:"image,omitempty"`
	PageCount int       `json:"pageCount,omitempty"`
	Title     string    `json:"title,omitempty"`
	Author    string    `json:"author,omitempty"`
	Truncated bool      `json:"truncated,omitempty"` // page count exceeds the cap
}
