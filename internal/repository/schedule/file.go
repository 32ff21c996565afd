package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oshokin/alarm-keeper/internal/config"
	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
)

// FileRepository persists armed alarms to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the JSON file.
	path string
	// mu protects concurrent access to the file.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the armed alarms from disk.
func (r *FileRepository) Load(_ context.Context) ([]alarm.Armed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read schedule file: %w", err)
	}

	var doc document
	if err = json.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("decode schedule file: %w", err)
	}

	if doc.Version > documentVersion {
		return nil, fmt.Errorf("schedule file version %d is newer than %d", doc.Version, documentVersion)
	}

	result := make([]alarm.Armed, 0, len(doc.Alarms))

	for _, rec := range doc.Alarms {
		armed, err := rec.toDomain()
		if err != nil {
			return nil, fmt.Errorf("decode schedule file: %w", err)
		}

		result = append(result, armed)
	}

	return result, nil
}

// Save replaces the file with alarms. The write goes through a temporary file
// so a crash never leaves a truncated schedule behind.
func (r *FileRepository) Save(_ context.Context, alarms []alarm.Armed) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := document{
		Version: documentVersion,
		SavedAt: time.Now().UTC(),
		Alarms:  make([]*record, 0, len(alarms)),
	}

	for i := range alarms {
		doc.Alarms = append(doc.Alarms, toRecord(&alarms[i]))
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}

	tmp := r.path + ".tmp"
	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write schedule file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace schedule file: %w", err)
	}

	return nil
}
