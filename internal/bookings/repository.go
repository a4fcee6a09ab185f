package bookings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/wolfman30/doctor-appointment-assistant/internal/booking"
)

// Repository is the append-only appointment record.
type Repository interface {
	Append(ctx context.Context, rec booking.Record) error
	List(ctx context.Context) ([]booking.Record, error)
}

// FileRepository keeps every appointment in one pretty-printed JSON array.
// Each append rewrites the whole file. The mutex serializes writers inside
// this process only.
type FileRepository struct {
	path string
	mu   sync.Mutex
}

// NewFileRepository creates a repository backed by the file at path.
func NewFileRepository(path string) (*FileRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("bookings: appointments file path required")
	}
	return &FileRepository{path: path}, nil
}

// Path returns the backing file location.
func (r *FileRepository) Path() string {
	return r.path
}

// Append reads the existing records, appends rec and persists the full array.
func (r *FileRepository) Append(ctx context.Context, rec booking.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load()
	if err != nil {
		return err
	}
	records = append(records, rec)
	return r.save(records)
}

// List returns all records in insertion order.
func (r *FileRepository) List(ctx context.Context) ([]booking.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

func (r *FileRepository) load() ([]booking.Record, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []booking.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: read %s: %w", r.path, err)
	}
	if len(data) == 0 {
		return []booking.Record{}, nil
	}
	var records []booking.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("bookings: decode %s: %w", r.path, err)
	}
	if records == nil {
		records = []booking.Record{}
	}
	return records, nil
}

func (r *FileRepository) save(records []booking.Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("bookings: encode: %w", err)
	}
	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".appointments-*.json")
	if err != nil {
		return fmt.Errorf("bookings: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("bookings: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("bookings: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("bookings: replace %s: %w", r.path, err)
	}
	return nil
}
