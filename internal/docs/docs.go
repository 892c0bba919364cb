package docs

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/tandem/internal/config"
	"github.com/hpungsan/tandem/internal/db"
	"github.com/hpungsan/tandem/internal/delta"
	"github.com/hpungsan/tandem/internal/errors"
	"github.com/hpungsan/tandem/internal/history"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Service owns the document histories. Histories are loaded from the store
// on first use and cached; every mutation is persisted before the cached
// history changes.
type Service struct {
	db     *sql.DB
	cfg    *config.Config
	logger *log.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	// replacing holds the ids a replace-mode import is rewriting; epoch
	// moves whenever such an import starts, so loads that began earlier
	// are not cached.
	replacing map[string]bool
	epoch     uint64
}

type entry struct {
	mu   sync.RWMutex
	hist *history.History

	// retired is set under mu when an import replaces the stored document.
	retired bool
}

// New returns a Service backed by database. A nil cfg uses the defaults and
// a nil logger discards.
func New(database *sql.DB, cfg *config.Config, logger *log.Logger) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		db:      database,
		cfg:     cfg,
		logger:  logger,
		entries:   make(map[string]*entry),
		replacing: make(map[string]bool),
	}
}

// Config returns the configuration the service runs with.
func (s *Service) Config() *config.Config {
	return s.cfg
}

func (s *Service) historyOptions() []history.Option {
	return []history.Option{
		history.WithSavepointRate(s.cfg.SavepointRate),
		history.WithSavepointCheck(s.cfg.CheckSavepoints),
		history.WithLogger(s.logger),
	}
}

// lookup returns the cached entry for id, loading it from the store if
// needed. Loading runs outside the registry lock; when two requests load
// the same document the first to install wins.
func (s *Service) lookup(ctx context.Context, id string) (*entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	for {
		s.mu.RLock()
		e, ok := s.entries[id]
		busy := s.replacing[id]
		epoch := s.epoch
		s.mu.RUnlock()
		if busy {
			return nil, errReplacing(id)
		}
		if ok {
			return e, nil
		}

		h, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if e, ok := s.entries[id]; ok {
			s.mu.Unlock()
			return e, nil
		}
		if s.epoch != epoch {
			// an import may have replaced what was just read
			s.mu.Unlock()
			continue
		}
		e = &entry{hist: h}
		s.entries[id] = e
		s.mu.Unlock()
		return e, nil
	}
}

func errReplacing(id string) error {
	return errors.NewConflict(fmt.Sprintf("document %s is being replaced by an import; retry", id))
}

func (s *Service) load(ctx context.Context, id string) (*history.History, error) {
	d, err := db.GetDocument(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	changes, err := db.LoadChanges(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	opts := append(s.historyOptions(), history.WithInitialRev(d.InitialRev))
	h, err := history.Restore(d.Branch, d.InitialContent, changes, opts...)
	if err != nil {
		s.logger.Printf("docs: restore %s: %v", id, err)
		return nil, errors.NewInternal(err)
	}
	if h.CurrentRev() != d.CurrentRev {
		s.logger.Printf("docs: %s header says rev %d, log replays to %d", id, d.CurrentRev, h.CurrentRev())
	}
	return h, nil
}

func (s *Service) evict(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

func checkCtx(ctx context.Context, op string) error {
	if ctx.Err() != nil {
		return errors.NewCancelled(op)
	}
	return nil
}

func (s *Service) checkLimit(changes []delta.Change) error {
	if max := s.cfg.MaxChangesPerRequest; max > 0 && len(changes) > max {
		return errors.NewTooManyChanges(max, len(changes))
	}
	return nil
}

// generateULID generates a new ULID.
func generateULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
