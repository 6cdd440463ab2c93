package memstore

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/settings"
)

// Current implements settings.Repository.
func (r *Settings) Current(ctx context.Context) (*settings.Settings, error) {
	defer r.s.lock(ctx)()
	for _, st := range r.s.st.settings {
		if st.Active {
			c := *st
			return &c, nil
		}
	}
	return nil, settings.ErrNoActive
}

// Create implements settings.Repository.
func (r *Settings) Create(ctx context.Context, st *settings.Settings) error {
	defer r.s.lock(ctx)()
	r.s.st.settingsSeq++
	st.ID = r.s.st.settingsSeq
	c := *st
	r.s.st.settings[st.ID] = &c
	return nil
}

// Activate implements settings.Repository.
func (r *Settings) Activate(ctx context.Context, id int64, at time.Time) error {
	defer r.s.lock(ctx)()
	target, ok := r.s.st.settings[id]
	if !ok {
		return errors.Wrapf(fault.ErrNotFound, "settings %d", id)
	}
	for _, st := range r.s.st.settings {
		st.Active = false
	}
	target.Active = true
	target.ActivatedAt = &at
	return nil
}

// Put stores a key under its hash.
func (r *APIKeys) Put(info auth.APIKeyInfo) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.st.apiKeys[info.KeyHash] = info
}

// FindByHash implements auth.Repository.
func (r *APIKeys) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	defer r.s.lock(ctx)()
	info, ok := r.s.st.apiKeys[hash]
	if !ok {
		return nil, auth.ErrInvalidKey
	}
	return &info, nil
}
