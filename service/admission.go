package service

import "sync"

// AdmissionController reproduces the bang-bang admission controller from
// spec.md §4.4: once outstanding requests reach half of the configured
// maximum, the handler stops admitting new ones until the in-flight batch
// has fully drained back to zero admitting requests.
//
// It is a self-contained, directly-testable unit; the handler's completion
// loop is the only caller.
type AdmissionController struct {
	mu sync.Mutex

	max         int
	outstanding int
	admitting   int
	draining    bool
}

func NewAdmissionController(max int) *AdmissionController {
	return &AdmissionController{max: max}
}

// PrepareNextRequest reports whether a new request may be admitted right
// now, and if so records it as both outstanding and admitting, matching
// `!draining && admitting_requests==0 && outstanding_requests<max`.
func (a *AdmissionController) PrepareNextRequest() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.draining || a.admitting != 0 || a.outstanding >= a.max {
		return false
	}
	a.outstanding++
	a.admitting++
	return true
}

// RequestAdmitted marks one admitting request as fully dispatched (the
// handler has finished handing it off), clearing admitting back toward
// zero and evaluating whether the bang-bang threshold requires entering
// the draining state.
func (a *AdmissionController) RequestAdmitted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.admitting > 0 {
		a.admitting--
	}
	if !a.draining && a.outstanding >= a.max/2 {
		a.draining = true
	}
}

// RequestCompleted is called when a request fully finishes (FINISH state
// released); it decrements outstanding and, if draining and now fully
// quiesced, clears draining so PrepareNextRequest can resume admitting.
func (a *AdmissionController) RequestCompleted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.outstanding > 0 {
		a.outstanding--
	}
	if a.draining && a.admitting == 0 {
		a.draining = false
	}
}

// Outstanding, Draining report current state for debug logging / metrics.
func (a *AdmissionController) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outstanding
}

func (a *AdmissionController) Draining() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.draining
}
