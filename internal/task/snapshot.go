package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"mediaflow/internal/fileutil"
)

const snapshotSchemaVersion = 1

type snapshotMeta struct {
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdated   time.Time `json:"last_updated"`
}

type snapshotFile struct {
	Workflows  map[string]Task `json:"workflows"`
	Statistics Counters        `json:"statistics"`
	Metadata   snapshotMeta    `json:"metadata"`
}

// snapshotBackend rewrites the whole store as one JSON document per change.
// The file is replaced by rename so it always holds a complete snapshot.
type snapshotBackend struct {
	path      string
	createdAt time.Time
}

func newSnapshotBackend(path string) (*snapshotBackend, error) {
	if path == "" {
		return nil, errors.New("snapshot path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &snapshotBackend{path: path}, nil
}

func (b *snapshotBackend) load(context.Context) (map[string]Task, *Counters, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		b.createdAt = time.Now().UTC()
		return map[string]Task{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Metadata.SchemaVersion != snapshotSchemaVersion {
		return nil, nil, fmt.Errorf("%w: snapshot has version %d, expected %d (move %s aside to start fresh)",
			ErrSchemaMismatch, snap.Metadata.SchemaVersion, snapshotSchemaVersion, b.path)
	}
	b.createdAt = snap.Metadata.CreatedAt
	if b.createdAt.IsZero() {
		b.createdAt = time.Now().UTC()
	}
	if snap.Workflows == nil {
		snap.Workflows = map[string]Task{}
	}
	return snap.Workflows, &snap.Statistics, nil
}

func (b *snapshotBackend) commit(_ context.Context, c change) error {
	snap := snapshotFile{
		Workflows:  c.tasks,
		Statistics: c.counters,
		Metadata: snapshotMeta{
			SchemaVersion: snapshotSchemaVersion,
			CreatedAt:     b.createdAt,
			LastUpdated:   c.at,
		},
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	data = append(data, '\n')
	if err := fileutil.AtomicWriteFile(b.path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (b *snapshotBackend) close() error { return nil }
