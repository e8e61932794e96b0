// Package archive keeps an append-only record of finished runs as JSON
// lines in a local file. One line is written per run during the pipeline's
// finalize stage.
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/stepforge/internal/pipeline"
	"github.com/MrWong99/stepforge/internal/validate"
)

var _ pipeline.Finalizer = (*FileArchive)(nil)

// maxLineBytes bounds a single record when reading the archive back.
const maxLineBytes = 16 << 20

// Record is a single archived run.
type Record struct {
	Timestamp time.Time                `json:"timestamp"`
	JobID     string                   `json:"job_id"`
	Steps     []validate.ValidatedStep `json:"steps"`
	Rejected  int                      `json:"rejected"`
	Metrics   validate.Metrics         `json:"metrics"`
	Stats     pipeline.RunStats        `json:"stats"`
	Notes     []string                 `json:"notes,omitempty"`
}

// FileArchive appends records to a JSON lines file.
// Thread-safe for concurrent use.
type FileArchive struct {
	mu   sync.Mutex
	path string
}

// NewFileArchive creates a FileArchive that writes to path. The file is
// created on the first write.
func NewFileArchive(path string) *FileArchive {
	return &FileArchive{path: path}
}

// Path returns the archive file location.
func (a *FileArchive) Path() string { return a.path }

// Finalize implements [pipeline.Finalizer] by appending res to the file.
func (a *FileArchive) Finalize(ctx context.Context, res *pipeline.Result) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	record := Record{
		Timestamp: time.Now().UTC(),
		JobID:     res.JobID,
		Steps:     res.Steps,
		Rejected:  len(res.Rejected),
		Metrics:   res.Metrics,
		Stats:     res.Stats,
		Notes:     res.Notes,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal: %w", err)
	}
	data = append(data, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("archive: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("archive: write: %w", err)
	}
	return nil
}

// Records reads every record in the archive, oldest first. A missing file
// yields no records.
func (a *FileArchive) Records() ([]Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: open file: %w", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("archive: line %d: %w", line, err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("archive: read: %w", err)
	}
	return out, nil
}
