package config

import "sync"

// Holder provides thread-safe access to the resolved configuration of a
// long-running "sync --watch", so a SIGHUP reload updates it in one place.
type Holder struct {
	mu       sync.RWMutex
	resolved *Resolved
	env      EnvOverrides
	cli      CLIOverrides
}

// NewHolder creates a Holder with the initial resolved config and the
// overrides used to produce it, so Reload applies the same layers.
func NewHolder(r *Resolved, env EnvOverrides, cli CLIOverrides) *Holder {
	return &Holder{
		resolved: r,
		env:      env,
		cli:      cli,
	}
}

// Resolved returns the current config snapshot. Thread-safe (read lock).
func (h *Holder) Resolved() *Resolved {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.resolved
}

// Update replaces the config. Thread-safe (write lock).
func (h *Holder) Update(r *Resolved) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.resolved = r
}

// Reload re-resolves the config from disk. On error the current snapshot
// is kept.
func (h *Holder) Reload() (*Resolved, error) {
	r, err := Resolve(h.env, h.cli, nil)
	if err != nil {
		return nil, err
	}

	h.Update(r)

	return r, nil
}
