package docs

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hpungsan/tandem/internal/db"
	"github.com/hpungsan/tandem/internal/errors"
	"github.com/hpungsan/tandem/internal/history"
)

// ImportMode controls what happens when an imported ID is already stored.
type ImportMode string

const (
	ImportModeError   ImportMode = "error"   // import nothing if any record fails or collides
	ImportModeSkip    ImportMode = "skip"    // keep the stored document
	ImportModeReplace ImportMode = "replace" // drop the stored document and its log
)

// maxImportLine bounds one JSONL record.
const maxImportLine = 64 << 20

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: error
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Replaced int           `json:"replaced"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError describes a record that was not imported.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type importRecord struct {
	line int
	rec  ExportRecord
	rev  int
}

// Import loads documents from an export file. Every record is replayed
// before anything is stored, and all stored records go in one transaction.
func (s *Service) Import(ctx context.Context, input ImportInput) (*ImportOutput, error) {
	if err := checkCtx(ctx, "import"); err != nil {
		return nil, err
	}
	if input.Mode == "" {
		input.Mode = ImportModeError
	}
	switch input.Mode {
	case ImportModeError, ImportModeSkip, ImportModeReplace:
	default:
		return nil, errors.NewInvalidRequest("mode must be one of: error, skip, replace")
	}
	if err := validatePath(input.Path, pathRead, s.cfg); err != nil {
		return nil, err
	}

	file, err := openNoFollow(input.Path, os.O_RDONLY, 0)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	records, out, err := s.parseImport(file)
	if err != nil {
		return nil, err
	}
	if input.Mode == ImportModeError && len(out.Errors) > 0 {
		return out, nil
	}

	var locked map[string]*entry
	if input.Mode == ImportModeReplace {
		ids := make([]string, len(records))
		for i, r := range records {
			ids[i] = r.rec.ID
		}
		if err := s.beginReplace(ids); err != nil {
			return nil, err
		}
		defer s.endReplace(ids)

		locked = s.lockCached(ids)
		defer func() {
			for _, e := range locked {
				e.mu.Unlock()
			}
		}()
	}

	var replaced []string
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, r := range records {
			exists, err := db.DocumentExists(ctx, tx, r.rec.ID)
			if err != nil {
				return err
			}
			if exists {
				switch input.Mode {
				case ImportModeError:
					out.Errors = append(out.Errors, ImportError{
						Line: r.line, ID: r.rec.ID, Code: string(errors.ErrConflict),
						Message: "a document with this id already exists",
					})
					continue
				case ImportModeSkip:
					out.Skipped++
					continue
				case ImportModeReplace:
					if err := db.PurgeDocument(ctx, tx, r.rec.ID); err != nil {
						return err
					}
					replaced = append(replaced, r.rec.ID)
				}
			}
			if err := insertRecord(ctx, tx, r); err != nil {
				return err
			}
			out.Imported++
		}
		if input.Mode == ImportModeError && len(out.Errors) > 0 {
			return errImportAborted
		}
		return nil
	})
	if err == errImportAborted {
		out.Imported = 0
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	out.Replaced = len(replaced)
	s.mu.Lock()
	for _, id := range replaced {
		if e, ok := locked[id]; ok {
			e.retired = true
		}
		delete(s.entries, id)
	}
	s.mu.Unlock()
	s.logger.Printf("docs: imported %d documents from %s (%d replaced, %d skipped)",
		out.Imported, input.Path, out.Replaced, out.Skipped)
	return out, nil
}

var errImportAborted = errors.NewConflict("import aborted")

// parseImport reads and replays every record. Records that fail land in
// the output's Errors.
func (s *Service) parseImport(file *os.File) ([]importRecord, *ImportOutput, error) {
	out := &ImportOutput{Errors: []ImportError{}}
	var records []importRecord
	seen := make(map[string]int)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxImportLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var rec ExportRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			out.Errors = append(out.Errors, ImportError{Line: line, Code: "PARSE_ERROR", Message: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}
		if rec.TandemExport {
			continue
		}
		if rec.ID == "" {
			out.Errors = append(out.Errors, ImportError{Line: line, Code: "INVALID_RECORD", Message: "missing id field"})
			continue
		}
		if first, dup := seen[rec.ID]; dup {
			out.Errors = append(out.Errors, ImportError{
				Line: line, ID: rec.ID, Code: "INVALID_RECORD",
				Message: fmt.Sprintf("duplicate id, first seen on line %d", first),
			})
			continue
		}
		seen[rec.ID] = line

		rev, err := s.replay(rec)
		if err != nil {
			ie := ImportError{Line: line, ID: rec.ID, Code: "INVALID_RECORD", Message: err.Error()}
			if sErr, ok := errors.As(err); ok {
				ie.Code, ie.Message = string(sErr.Code), sErr.Message
			}
			out.Errors = append(out.Errors, ie)
			continue
		}
		records = append(records, importRecord{line: line, rec: rec, rev: rev})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.NewInvalidRequest(fmt.Sprintf("failed to read import file: %v", err))
	}
	return records, out, nil
}

// replay checks that a record's log applies to its initial content and
// returns the revision it reaches.
func (s *Service) replay(rec ExportRecord) (int, error) {
	if rec.InitialRev < 0 {
		return 0, errors.NewInvalidRequest("initial_rev must not be negative")
	}
	opts := append(s.historyOptions(), history.WithInitialRev(rec.InitialRev))
	h, err := history.Restore(rec.Branch, rec.InitialContent, rec.Changes, opts...)
	if err != nil {
		return 0, err
	}
	return h.CurrentRev(), nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, r importRecord) error {
	d := &db.Document{
		ID:             r.rec.ID,
		Title:          r.rec.Title,
		Branch:         r.rec.Branch,
		InitialRev:     r.rec.InitialRev,
		InitialContent: r.rec.InitialContent,
		CurrentRev:     r.rev,
		CreatedAt:      r.rec.CreatedAt,
		UpdatedAt:      r.rec.UpdatedAt,
		DeletedAt:      r.rec.DeletedAt,
	}
	if err := db.InsertDocument(ctx, tx, d); err != nil {
		return err
	}
	return db.AppendChanges(ctx, tx, d.ID, d.InitialRev, r.rec.Changes)
}

// beginReplace reserves ids for a replace-mode import. Until endReplace,
// lookups of those ids fail with CONFLICT and nothing new is cached for
// them.
func (s *Service) beginReplace(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if s.replacing[id] {
			return errReplacing(id)
		}
	}
	for _, id := range ids {
		s.replacing[id] = true
	}
	s.epoch++
	return nil
}

func (s *Service) endReplace(ids []string) {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.replacing, id)
	}
	s.mu.Unlock()
}

// lockCached write-locks the cached entries of ids in id order, so that
// requests already holding one finish first and later ones see it retired.
// Call it after beginReplace: no entry for ids can be cached afterwards.
func (s *Service) lockCached(ids []string) map[string]*entry {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	locked := make(map[string]*entry)
	for _, id := range sorted {
		s.mu.RLock()
		e, ok := s.entries[id]
		s.mu.RUnlock()
		if ok {
			e.mu.Lock()
			locked[id] = e
		}
	}
	return locked
}
