package muxchannel

import "sync"

// newCond hides the fact that there is no usable zero value for sync.Cond,
// grounded in massiveart-go.crypto/ssh/common.go's newCond.
func newCond() *sync.Cond { return sync.NewCond(new(sync.Mutex)) }

// window is the flow-control credit for one channel direction (spec
// section 3, "Channel"). add() is called when a WINDOW_ADJUST arrives or
// an initial grant is made; reserve() blocks until at least 1 byte of
// credit is available and debits up to the requested amount.
type window struct {
	*sync.Cond
	win uint32
}

func newWindow(initial uint32) *window {
	return &window{Cond: newCond(), win: initial}
}

// add credits win bytes back to the window. Returns false on uint32
// overflow, which the caller treats as a protocol violation.
func (w *window) add(win uint32) bool {
	if win == 0 {
		return true
	}
	w.L.Lock()
	if w.win+win < win {
		w.L.Unlock()
		return false
	}
	w.win += win
	w.Broadcast()
	w.L.Unlock()
	return true
}

// reserve blocks until window capacity exists, then debits up to win
// bytes and returns however much was actually reserved.
func (w *window) reserve(win uint32) uint32 {
	w.L.Lock()
	for w.win == 0 {
		w.Wait()
	}
	if w.win < win {
		win = w.win
	}
	w.win -= win
	w.L.Unlock()
	return win
}

// size returns the current credit without blocking.
func (w *window) size() uint32 {
	w.L.Lock()
	defer w.L.Unlock()
	return w.win
}
