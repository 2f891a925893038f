package page

import "sync/atomic"

// ReloadGuard is a one-way latch. It is never reset.
type ReloadGuard struct {
	tripped atomic.Bool
}

// Trip latches the guard and reports whether this call was the first.
func (g *ReloadGuard) Trip() bool {
	return g.tripped.CompareAndSwap(false, true)
}

// Tripped reports whether the guard has latched.
func (g *ReloadGuard) Tripped() bool {
	return g.tripped.Load()
}
