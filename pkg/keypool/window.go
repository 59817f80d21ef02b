package keypool

import (
	"time"
)

// Window implements sliding window rate limiting over requests and tokens.
// It is not safe for concurrent use; the owning key's mutex guards it.
type Window struct {
	size        time.Duration
	maxRequests int
	maxTokens   int64
	requests    []time.Time
	tokens      []tokenSample
}

type tokenSample struct {
	at    time.Time
	count int64
}

// NewWindow creates a window. A zero limit disables that dimension.
func NewWindow(size time.Duration, maxRequests int, maxTokens int64) *Window {
	if size <= 0 {
		size = time.Minute
	}
	return &Window{
		size:        size,
		maxRequests: maxRequests,
		maxTokens:   maxTokens,
		requests:    make([]time.Time, 0),
		tokens:      make([]tokenSample, 0),
	}
}

// trim drops samples that fell out of the window.
func (w *Window) trim(now time.Time) {
	cutoff := now.Add(-w.size)

	i := 0
	for i < len(w.requests) && !w.requests[i].After(cutoff) {
		i++
	}
	w.requests = w.requests[i:]

	j := 0
	for j < len(w.tokens) && !w.tokens[j].at.After(cutoff) {
		j++
	}
	w.tokens = w.tokens[j:]
}

// Admit checks the ceilings and, when allowed, reserves a request slot.
// The check and the reservation happen together so that callers holding
// the key lock cannot overshoot the ceiling.
func (w *Window) Admit(now time.Time) (bool, string) {
	w.trim(now)

	if w.maxRequests > 0 && len(w.requests) >= w.maxRequests {
		return false, "request limit reached"
	}
	if w.maxTokens > 0 && w.tokenSum() >= w.maxTokens {
		return false, "token limit reached"
	}

	w.requests = append(w.requests, now)
	return true, ""
}

// AddTokens records tokens consumed at now.
func (w *Window) AddTokens(now time.Time, count int64) {
	if count <= 0 {
		return
	}
	w.tokens = append(w.tokens, tokenSample{at: now, count: count})
}

// Usage returns the requests and tokens currently inside the window.
func (w *Window) Usage(now time.Time) (int, int64) {
	w.trim(now)
	return len(w.requests), w.tokenSum()
}

// UpdateLimits changes the ceilings without dropping recorded samples.
func (w *Window) UpdateLimits(size time.Duration, maxRequests int, maxTokens int64) {
	if size > 0 {
		w.size = size
	}
	w.maxRequests = maxRequests
	w.maxTokens = maxTokens
}

func (w *Window) tokenSum() int64 {
	var sum int64
	for _, s := range w.tokens {
		sum += s.count
	}
	return sum
}
