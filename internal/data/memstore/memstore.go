// Package memstore is an in-memory implementation of the core repositories.
// It mirrors the Postgres semantics the services rely on (conditional claim,
// one active job per issue and type, due ordering) and backs service tests
// and local runs without a database.
package memstore

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/domain/model"
)

// Op names a repository method for error injection, e.g. "deliveries.ListScheduledByIssue".
type Op string

// Store holds every table behind one mutex.
type Store struct {
	mu    sync.Mutex
	clock core.Clock
	seq   int64

	jobs       map[string]*jobRow
	issues     map[string]*issueRow
	deliveries map[string]*deliveryRow
	prefs      map[string]*model.Preferences
	events     []*model.EmailEvent

	errs map[Op]error
}

type jobRow struct {
	job model.Job
	seq int64
}

type issueRow struct {
	issue model.Issue
	seq   int64
}

type deliveryRow struct {
	delivery model.Delivery
	seq      int64
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// New creates an empty store. A nil clock uses the system time.
func New(clock core.Clock) *Store {
	if clock == nil {
		clock = systemClock{}
	}
	return &Store{
		clock:      clock,
		jobs:       make(map[string]*jobRow),
		issues:     make(map[string]*issueRow),
		deliveries: make(map[string]*deliveryRow),
		prefs:      make(map[string]*model.Preferences),
		errs:       make(map[Op]error),
	}
}

// SetError makes op return err until cleared with a nil err.
func (s *Store) SetError(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, op)
		return
	}
	s.errs[op] = err
}

// injected must be called with mu held.
func (s *Store) injected(op Op) error {
	return s.errs[op]
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// Jobs returns the job repository view.
func (s *Store) Jobs() *Jobs { return &Jobs{s: s} }

// Issues returns the issue repository view.
func (s *Store) Issues() *Issues { return &Issues{s: s} }

// Deliveries returns the delivery repository view.
func (s *Store) Deliveries() *Deliveries { return &Deliveries{s: s} }

// Preferences returns the preferences repository view.
func (s *Store) Preferences() *Preferences { return &Preferences{s: s} }

// Events returns the email event repository view.
func (s *Store) Events() *Events { return &Events{s: s} }

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func limitOr(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}

func trimmed(s string) string { return strings.TrimSpace(s) }

func sortBy[T any](rows []T, less func(a, b T) bool) {
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
}

func newID() string { return uuid.NewString() }
