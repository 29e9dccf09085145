package router

import "sync/atomic"

// Override is the operator switch that forces the fallback path. One value
// is shared by every router it is injected into; a Set is visible to every
// Run that starts after it returns. It never expires on its own.
type Override struct {
	force atomic.Bool
}

// NewOverride creates an Override with an initial value.
func NewOverride(force bool) *Override {
	o := &Override{}
	o.force.Store(force)
	return o
}

// Set changes the override.
func (o *Override) Set(force bool) { o.force.Store(force) }

// Reset clears the override.
func (o *Override) Reset() { o.force.Store(false) }

// Forced reports whether the fallback path is forced.
func (o *Override) Forced() bool {
	if o == nil {
		return false
	}
	return o.force.Load()
}
