// Package checkpoint writes worker snapshots to disk so a stopped task leaves a recovery point.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
)

// Marker is the status recorded in a checkpoint file name
type Marker string

const (
	MarkerNone      Marker = ""
	MarkerRateLimit Marker = "RATE_LIMIT"
	MarkerError     Marker = "ERROR"
	MarkerComplete  Marker = "COMPLETE"
	MarkerDBMerged  Marker = "DB_COMPLETED"
)

const filePrefix = "repo_stats_data_"

// FileName builds repo_stats_data_<id>[_<marker>][_<date>].json. A zero date is omitted.
func FileName(id string, marker Marker, date time.Time) string {
	var b strings.Builder
	b.WriteString(filePrefix)
	b.WriteString(id)
	if marker != MarkerNone {
		b.WriteString("_")
		b.WriteString(string(marker))
	}
	if !date.IsZero() {
		b.WriteString("_")
		b.WriteString(domain.FormatDay(date))
	}
	b.WriteString(".json")
	return b.String()
}

// Writer writes snapshots into a directory
type Writer struct {
	dir string
}

// NewWriter creates a writer for dir, creating the directory if needed
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the checkpoint directory
func (w *Writer) Dir() string {
	return w.dir
}

// Write stores snap for a worker and returns the file path
func (w *Writer) Write(workerID int, marker Marker, date time.Time, snap *domain.DatasetSnapshot) (string, error) {
	return w.WriteNamed(FileName(strconv.Itoa(workerID), marker, date), snap)
}

// WriteNamed stores snap under name inside the checkpoint directory. The file
// is replaced atomically so a reader never sees a partial snapshot.
func (w *Writer) WriteNamed(name string, snap *domain.DatasetSnapshot) (string, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	path := filepath.Join(w.dir, name)
	tmp, err := os.CreateTemp(w.dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return path, nil
}

// Load reads a snapshot written by Writer
func Load(path string) (*domain.DatasetSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	snap := domain.NewSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", path, err)
	}
	if snap.Repositories == nil {
		snap.Repositories = make(map[string]*domain.RepositoryRecord)
	}
	return snap, nil
}

// MergedFileName names the file written by an offline merge of a whole collection
func MergedFileName(snap *domain.DatasetSnapshot) string {
	oldest, latest := snap.Bounds()
	id := fmt.Sprintf("[%s,%s]", formatOrEmpty(latest), formatOrEmpty(oldest))
	return FileName(id, MarkerDBMerged, time.Time{})
}

func formatOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return domain.FormatDay(t)
}
