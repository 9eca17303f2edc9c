package history

import (
	"context"
	"sync"
	"time"

	"github.com/comigor/healthchat-go/internal/logger"
)

// DefaultDebounce is the refresh coalescing window.
const DefaultDebounce = 300 * time.Millisecond

// ListFunc fetches the authoritative history list.
type ListFunc func(ctx context.Context) ([]Record, error)

// Refresher keeps a cached copy of the history list and refreshes it on
// request. Requests arriving within the debounce window collapse into a
// single fetch; at most one timer is pending at any time.
type Refresher struct {
	fetch    ListFunc
	delay    time.Duration
	onChange func([]Record)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timer   *time.Timer
	seq     uint64
	list    []Record
	stopped bool

	fetchMu sync.Mutex
}

// NewRefresher returns a refresher. onChange, when set, receives every new
// snapshot, including the empty one that follows a failed fetch.
func NewRefresher(fetch ListFunc, delay time.Duration, onChange func([]Record)) *Refresher {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Refresher{
		fetch:    fetch,
		delay:    delay,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Request schedules a refresh, replacing any pending one.
func (r *Refresher) Request() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.seq++
	seq := r.seq
	r.timer = time.AfterFunc(r.delay, func() { r.fire(seq) })
}

// Refresh fetches immediately, cancelling any pending request.
func (r *Refresher) Refresh(ctx context.Context) []Record {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.seq++
	r.mu.Unlock()
	return r.load(ctx)
}

// List returns the cached snapshot.
func (r *Refresher) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.list...)
}

// Find returns the cached record with id.
func (r *Refresher) Find(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.list {
		if rec.ID == id {
			return rec, true
		}
	}
	return Record{}, false
}

// Stop cancels any pending refresh and in-flight fetch.
func (r *Refresher) Stop() {
	r.mu.Lock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
	r.cancel()
}

func (r *Refresher) fire(seq uint64) {
	r.mu.Lock()
	if r.stopped || seq != r.seq {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.mu.Unlock()
	r.load(r.ctx)
}

func (r *Refresher) load(ctx context.Context) []Record {
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()

	list, err := r.fetch(ctx)
	if err != nil {
		logger.L.Warn("history refresh failed; clearing cached list", "error", err)
		list = nil
	}

	r.mu.Lock()
	r.list = list
	snapshot := append([]Record(nil), list...)
	r.mu.Unlock()

	if r.onChange != nil {
		r.onChange(snapshot)
	}
	return snapshot
}
