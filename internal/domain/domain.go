package domain

import (
	"errors"
	"fmt"
	"time"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatDOC  Format = "doc"
)

const (
	MediaTypePDF  = "application/pdf"
	MediaTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaTypeDOC  = "application/msword"
)

// ParseTargetFormat accepts only formats a job may be asked to produce.
func ParseTargetFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPDF, FormatDOCX:
		return Format(s), nil
	default:
		return "", ErrInvalidFormat
	}
}

// SourceFormatOf maps a declared upload media type to its format.
func SourceFormatOf(mediaType string) (Format, error) {
	switch mediaType {
	case MediaTypePDF:
		return FormatPDF, nil
	case MediaTypeDOCX:
		return FormatDOCX, nil
	case MediaTypeDOC:
		return FormatDOC, nil
	default:
		return "", ErrUnsupportedMediaType
	}
}

func (f Format) Ext() string {
	return "." + string(f)
}

func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return MediaTypePDF
	case FormatDOCX:
		return MediaTypeDOCX
	case FormatDOC:
		return MediaTypeDOC
	default:
		return "application/octet-stream"
	}
}

type Strategy string

const (
	StrategyToDocx Strategy = "to_docx"
	StrategyToPdf  Strategy = "to_pdf"
)

func StrategyFor(target Format) (Strategy, error) {
	switch target {
	case FormatDOCX:
		return StrategyToDocx, nil
	case FormatPDF:
		return StrategyToPdf, nil
	default:
		return "", ErrInvalidFormat
	}
}

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusTimedOut  JobStatus = "timed_out"
)

func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut
}

type ConversionJob struct {
	ID string

	OriginalName string
	MediaType    string
	SourceFormat Format
	TargetFormat Format
	Size         int64

	SourcePath string
	OutputPath string

	Status    JobStatus
	CreatedAt time.Time
}

// Transition moves the job forward. Only pending->running and
// running->terminal are legal; terminal states are final.
func (j *ConversionJob) Transition(next JobStatus) error {
	switch {
	case j.Status == StatusPending && next == StatusRunning:
	case j.Status == StatusPending && next == StatusFailed:
	case j.Status == StatusRunning && next.Terminal():
	default:
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, j.Status, next)
	}
	j.Status = next
	return nil
}

type ConversionRecord struct {
	ID            string    `json:"id" firestore:"-"`
	OriginalName  string    `json:"originalName" firestore:"originalName"`
	ConvertedName string    `json:"convertedName" firestore:"convertedName"`
	FromType      string    `json:"fromType" firestore:"fromType"`
	ToType        string    `json:"toType" firestore:"toType"`
	DownloadURL   string    `json:"downloadUrl" firestore:"downloadUrl"`
	SizeBytes     int64     `json:"sizeBytes,omitempty" firestore:"sizeBytes,omitempty"`
	PageCount     int       `json:"pageCount,omitempty" firestore:"pageCount,omitempty"`
	DurationMs    int64     `json:"durationMs,omitempty" firestore:"durationMs,omitempty"`
	ArchiveKey    string    `json:"archiveKey,omitempty" firestore:"archiveKey,omitempty"`
	CreatedAt     time.Time `json:"createdAt" firestore:"createdAt"`
}

// JobEvent is emitted once per job when it reaches a terminal status.
type JobEvent struct {
	JobID        string    `json:"job_id"`
	Status       JobStatus `json:"status"`
	SourceFormat Format    `json:"source_format"`
	TargetFormat Format    `json:"target_format"`
	DurationMs   int64     `json:"duration_ms"`
	RecordID     string    `json:"record_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Platform  string    `json:"platform"`
	Timestamp time.Time `json:"timestamp"`
}

var (
	ErrNoFile               = errors.New("no file provided")
	ErrInvalidFormat        = errors.New("invalid target format")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrFileTooLarge         = errors.New("file too large")

	ErrToolUnavailable  = errors.New("converter tool unavailable")
	ErrInvocationFailed = errors.New("converter invocation failed")
	ErrTimeout          = errors.New("converter timed out")
	ErrConverterBusy    = errors.New("converter busy")
	ErrOutputMissing    = errors.New("converter output missing")
	ErrConversionFailed = errors.New("conversion failed")
	ErrSetupFailed      = errors.New("conversion setup failed")

	ErrRecordNotFound    = errors.New("record not found")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrArtifactNotFound  = errors.New("artifact not found")
	ErrIllegalTransition = errors.New("illegal job status transition")
	ErrOutsideWorkspace  = errors.New("path outside workspace")
)
