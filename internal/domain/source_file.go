package domain

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUnsupportedFileType is returned when an upload does not carry a
// supported tabular extension. The check runs before any SourceFile
// record is created.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// ParseStatus tracks whether a source file has been read successfully.
type ParseStatus string

const (
	ParseStatusPending ParseStatus = "pending"
	ParseStatusParsed  ParseStatus = "parsed"
	ParseStatusFailed  ParseStatus = "failed"
)

// SourceFile is one uploaded file belonging to a job. Many files may
// combine into one job's row set.
type SourceFile struct {
	ID          uuid.UUID   `json:"id"`
	JobID       uuid.UUID   `json:"job_id"`
	FileName    string      `json:"file_name"`
	ContentHash string      `json:"content_hash"`
	Content     []byte      `json:"-"`
	ParseStatus ParseStatus `json:"parse_status"`
	RowCount    int         `json:"row_count"`
	CreatedAt   time.Time   `json:"created_at"`
}

var supportedExtensions = map[string]struct{}{
	".csv":  {},
	".xls":  {},
	".xlsx": {},
}

// SupportedExtension reports whether the file name carries an accepted
// tabular extension (csv, xls, xlsx).
func SupportedExtension(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	_, ok := supportedExtensions[ext]
	return ok
}

// NewSourceFile creates a pending source file record, rejecting
// unsupported extensions up front.
func NewSourceFile(jobID uuid.UUID, fileName, contentHash string, content []byte) (SourceFile, error) {
	if !SupportedExtension(fileName) {
		return SourceFile{}, ErrUnsupportedFileType
	}
	return SourceFile{
		ID:          uuid.New(),
		JobID:       jobID,
		FileName:    fileName,
		ContentHash: contentHash,
		Content:     content,
		ParseStatus: ParseStatusPending,
		CreatedAt:   time.Now(),
	}, nil
}
