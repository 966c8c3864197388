package config

import "sync/atomic"

// Runtime holds the only configuration state that may change after start.
// AutoExecute is read once per opportunity event by the auto-execute
// subscriber and once per request by the manual execute handler; the
// detector and the coordinator do not read it. The atomic gives every
// reader a whole value even when the flag flips mid-flight.
type Runtime struct {
	autoExecute atomic.Bool
}

// NewRuntime seeds the runtime flags from the immutable snapshot.
func NewRuntime(cfg *Config) *Runtime {
	r := &Runtime{}
	r.autoExecute.Store(cfg.Arbitrage.AutoExecute)
	return r
}

// AutoExecute reports whether detected opportunities are executed
// automatically.
func (r *Runtime) AutoExecute() bool {
	return r.autoExecute.Load()
}

// SetAutoExecute flips the auto-execute toggle.
func (r *Runtime) SetAutoExecute(v bool) {
	r.autoExecute.Store(v)
}
