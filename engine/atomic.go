package engine

import "sync/atomic"

// atomic32 is a thin wrapper over atomic.Uint32 with the three operations
// the ring's overflow counter needs. It exists only for readability at the
// call sites above (r.overflow.add(1) reads better than the raw atomic
// spelling) and carries no behavior of its own.
type atomic32 struct {
	v atomic.Uint32
}

func (a *atomic32) add(delta uint32) uint32 { return a.v.Add(delta) }
func (a *atomic32) load() uint32            { return a.v.Load() }
func (a *atomic32) swap(new uint32) uint32  { return a.v.Swap(new) }
