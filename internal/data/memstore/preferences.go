package memstore

import (
	"context"
	"slices"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/domain/model"
)

// Preferences implements core.PreferencesRepository.
type Preferences struct{ s *Store }

var _ core.PreferencesRepository = (*Preferences)(nil)

func clonePrefs(p *model.Preferences) *model.Preferences {
	out := *p
	out.Topics = slices.Clone(p.Topics)
	out.MustInclude = slices.Clone(p.MustInclude)
	out.Avoid = slices.Clone(p.Avoid)
	return &out
}

// Put stores preferences keyed by UserID.
func (r *Preferences) Put(p *model.Preferences) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := clonePrefs(p)
	if stored.ID == "" {
		stored.ID = newID()
	}
	r.s.prefs[stored.UserID] = stored
}

// GetByUserID returns data.ErrPreferencesNotFound when absent.
func (r *Preferences) GetByUserID(_ context.Context, userID string) (*model.Preferences, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("preferences.GetByUserID"); err != nil {
		return nil, err
	}
	p, ok := r.s.prefs[trimmed(userID)]
	if !ok {
		return nil, data.ErrPreferencesNotFound
	}
	return clonePrefs(p), nil
}
