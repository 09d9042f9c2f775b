package service

import (
	"sync"
)

// stampedeTracker counts callers attached to each outstanding refresh. More than one
// for a key means concurrent stale reads collapsed into a single upstream call.
type stampedeTracker struct {
	mu       sync.Mutex     // protects attached
	attached map[string]int // flight key -> callers waiting on it
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{
		attached: make(map[string]int),
	}
}

// Join records a caller attaching to key's flight and returns the count after incrementing.
// Callers must Leave(key) once they stop waiting.
func (st *stampedeTracker) Join(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.attached[key]++
	return st.attached[key]
}

// Leave records a caller detaching from key's flight.
func (st *stampedeTracker) Leave(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if count, ok := st.attached[key]; ok && count > 0 {
		st.attached[key]--
		if st.attached[key] == 0 {
			delete(st.attached, key)
		}
	}
}

// Pending returns how many callers are attached to key's flight.
func (st *stampedeTracker) Pending(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.attached[key]
}
