package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"evalportal/internal/upstream"
)

var ErrCollaboratorsNotLoaded = errors.New("collaborators not loaded")

type LoadState int

const (
	NotLoaded LoadState = iota
	Loaded
)

func (s LoadState) String() string {
	if s == Loaded {
		return "loaded"
	}
	return "not_loaded"
}

type CollaboratorAPI interface {
	Collaborators(ctx context.Context, cred upstream.Credential, evaluatorID string) ([]upstream.Collaborator, error)
}

type directoryEntry struct {
	collaborators []upstream.Collaborator
	loadedAt      time.Time
}

// Directory caches each evaluator's direct reports. Reads before Load fail
// with ErrCollaboratorsNotLoaded instead of returning an empty list.
type Directory struct {
	api CollaboratorAPI
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]directoryEntry
}

// NewDirectory keeps entries for ttl; a zero ttl keeps them until Invalidate.
func NewDirectory(api CollaboratorAPI, ttl time.Duration) *Directory {
	return &Directory{
		api:     api,
		ttl:     ttl,
		now:     time.Now,
		entries: map[string]directoryEntry{},
	}
}

func (d *Directory) State(evaluatorID string) LoadState {
	_, ok := d.entry(evaluatorID)
	if ok {
		return Loaded
	}
	return NotLoaded
}

// Load fetches the caller's collaborators and replaces any cached list.
func (d *Directory) Load(ctx context.Context, identity Identity) ([]upstream.Collaborator, error) {
	list, err := d.api.Collaborators(ctx, identity.Credential, identity.ID())
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []upstream.Collaborator{}
	}
	d.mu.Lock()
	d.entries[identity.ID()] = directoryEntry{collaborators: list, loadedAt: d.now()}
	d.mu.Unlock()
	return list, nil
}

func (d *Directory) Collaborators(evaluatorID string) ([]upstream.Collaborator, error) {
	e, ok := d.entry(evaluatorID)
	if !ok {
		return nil, ErrCollaboratorsNotLoaded
	}
	return e.collaborators, nil
}

// Ensure returns the cached list, loading it first when needed.
func (d *Directory) Ensure(ctx context.Context, identity Identity) ([]upstream.Collaborator, error) {
	if list, err := d.Collaborators(identity.ID()); err == nil {
		return list, nil
	}
	return d.Load(ctx, identity)
}

func (d *Directory) Invalidate(evaluatorID string) {
	d.mu.Lock()
	delete(d.entries, evaluatorID)
	d.mu.Unlock()
}

// HasCollaborator reports whether colaboradorID reports to evaluatorID.
func (d *Directory) HasCollaborator(evaluatorID, colaboradorID string) (bool, error) {
	list, err := d.Collaborators(evaluatorID)
	if err != nil {
		return false, err
	}
	for _, c := range list {
		if c.Document == colaboradorID {
			return true, nil
		}
	}
	return false, nil
}

func (d *Directory) entry(evaluatorID string) (directoryEntry, bool) {
	d.mu.RLock()
	e, ok := d.entries[evaluatorID]
	d.mu.RUnlock()
	if !ok {
		return directoryEntry{}, false
	}
	if d.ttl > 0 && d.now().Sub(e.loadedAt) > d.ttl {
		return directoryEntry{}, false
	}
	return e, true
}
