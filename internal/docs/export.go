package docs

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/tandem/internal/db"
	"github.com/hpungsan/tandem/internal/delta"
	"github.com/hpungsan/tandem/internal/errors"
)

// exportSchemaVersion is written in every export header.
const exportSchemaVersion = "1.0"

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path           string // default: ~/.tandem/exports/docs-<timestamp>.jsonl
	IncludeDeleted bool
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader is the first line of an export file.
type ExportHeader struct {
	TandemExport  bool   `json:"_tandem_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
}

// ExportRecord is one document in an export file: its header, initial
// content and full change log.
type ExportRecord struct {
	TandemExport   bool           `json:"_tandem_export,omitempty"`
	ID             string         `json:"id"`
	Title          *string        `json:"title,omitempty"`
	Branch         string         `json:"branch"`
	InitialRev     int            `json:"initial_rev"`
	InitialContent delta.Change   `json:"initial_content"`
	Changes        []delta.Change `json:"changes"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
	DeletedAt      *int64         `json:"deleted_at,omitempty"`
}

// Export writes every document and its change log to a JSONL file. The
// file is written under a temporary name and renamed into place, so an
// existing file survives a failed export.
func (s *Service) Export(ctx context.Context, input ExportInput) (*ExportOutput, error) {
	if err := checkCtx(ctx, "export"); err != nil {
		return nil, err
	}
	now := time.Now()

	path := input.Path
	if path == "" {
		dir, err := DefaultExportsDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "docs-"+now.Format("2006-01-02T150405")+".jsonl")
	}
	if err := validatePath(path, pathWrite, s.cfg); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(suffix) + ".tmp"
	file, err := openNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	header := ExportHeader{TandemExport: true, SchemaVersion: exportSchemaVersion, ExportedAt: now.Unix()}
	if err := enc.Encode(header); err != nil {
		return nil, errors.NewInternal(err)
	}

	// SQLite may run with a single connection, so headers are collected
	// before their change logs are loaded.
	var headers []*db.Document
	err = db.ForEachDocument(ctx, s.db, input.IncludeDeleted, func(d *db.Document) error {
		headers = append(headers, d)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, d := range headers {
		if err := checkCtx(ctx, "export"); err != nil {
			return nil, err
		}
		changes, err := db.LoadChanges(ctx, s.db, d.ID)
		if err != nil {
			return nil, err
		}
		if changes == nil {
			changes = []delta.Change{}
		}
		record := ExportRecord{
			ID:             d.ID,
			Title:          d.Title,
			Branch:         d.Branch,
			InitialRev:     d.InitialRev,
			InitialContent: d.InitialContent,
			Changes:        changes,
			CreatedAt:      d.CreatedAt,
			UpdatedAt:      d.UpdatedAt,
			DeletedAt:      d.DeletedAt,
		}
		if err := enc.Encode(record); err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	if err := w.Flush(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("path must not be a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	s.logger.Printf("docs: exported %d documents to %s", len(headers), path)
	return &ExportOutput{Path: path, Count: len(headers), ExportedAt: header.ExportedAt}, nil
}
