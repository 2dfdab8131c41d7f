package config

import "sync/atomic"

// Holder provides concurrent access to a reloadable Config. Readers always
// see a complete, validated configuration.
type Holder struct {
	path string
	cur  atomic.Pointer[Config]
}

// NewHolder wraps an already-loaded Config together with the YAML path it
// came from so it can be reloaded later.
func NewHolder(cfg *Config, path string) *Holder {
	h := &Holder{path: path}
	h.cur.Store(cfg)
	return h
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	return h.cur.Load()
}

// Reload re-runs the full load hierarchy against the original path. When the
// new configuration fails to load or validate, the previous one stays in
// effect and the error is returned.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return err
	}
	h.cur.Store(cfg)
	return nil
}
