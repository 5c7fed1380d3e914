package stitch

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxSkip is the look-ahead budget used when none is configured.
const DefaultMaxSkip = 3

// Option configures a Controller.
type Option func(*Controller)

// WithMaxSkip sets how many candidates may be tried after a failed merge.
// Negative values are treated as zero.
func WithMaxSkip(k int) Option {
	return func(c *Controller) {
		if k < 0 {
			k = 0
		}
		c.maxSkip = k
	}
}

// WithObserver attaches an observer for controller decisions.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// Controller runs the adaptive stitching algorithm. A Controller holds no
// per-run state and may be reused; a single Run is strictly sequential.
type Controller struct {
	loader   Loader
	stitcher Stitcher
	observer Observer
	maxSkip  int
}

// New returns a Controller using loader and stitcher.
func New(loader Loader, stitcher Stitcher, opts ...Option) *Controller {
	c := &Controller{
		loader:   loader,
		stitcher: stitcher,
		observer: nopObserver{},
		maxSkip:  DefaultMaxSkip,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxSkip returns the configured look-ahead budget.
func (c *Controller) MaxSkip() int { return c.maxSkip }

// state is the accumulator threaded through every step. Steps take it by
// value and return the successor, so a failed step leaves the caller's copy
// untouched.
type state struct {
	pano     Image
	used     []string
	skipped  []string
	attempts int
}

// Run stitches refs in order. It always returns the used and skipped
// references, also when no panorama could be produced.
//
// The context is checked between iterations. When it is cancelled the run
// stops early: references not yet classified appear in neither list and
// Result.Err carries the context error.
func (c *Controller) Run(ctx context.Context, refs []string) Result {
	if len(refs) < 2 {
		return Result{Status: StatusFailed, Skipped: cloneRefs(refs), Err: ErrInsufficientInput}
	}

	base, ok := c.load(ctx, refs[0], 0, false)
	if !ok {
		return Result{
			Status:  StatusFailed,
			Skipped: cloneRefs(refs),
			Err:     fmt.Errorf("%w: %s", ErrBaseUnreadable, refs[0]),
		}
	}

	st := state{pano: base, used: []string{refs[0]}}
	i := 1
	for i < len(refs) {
		if err := ctx.Err(); err != nil {
			return c.finish(st, err)
		}
		st, i = c.step(ctx, st, refs, i)
	}
	return c.finish(st, nil)
}

// step handles the reference at the cursor and returns the next cursor,
// which is always greater than i unless the context was cancelled.
func (c *Controller) step(ctx context.Context, st state, refs []string, i int) (state, int) {
	ref := refs[i]
	img, ok := c.load(ctx, ref, i, false)
	if !ok {
		st.skipped = append(st.skipped, ref)
		c.emit(Event{Kind: EventSkipped, Ref: ref, Index: i, Reason: ReasonLoadFailed})
		return st, i + 1
	}

	c.emit(Event{Kind: EventAttempt, Ref: ref, Index: i})
	st, status, err := c.merge(ctx, st, ref, img)
	if status.OK() {
		c.emit(Event{Kind: EventMerged, Ref: ref, Index: i, Status: status})
		return st, i + 1
	}
	c.emit(Event{Kind: EventMergeFailed, Ref: ref, Index: i, Status: status, Err: err})

	return c.search(ctx, st, refs, i)
}

// search tries up to maxSkip candidates after the failing position i. A
// candidate that cannot be decoded is passed over without consuming budget.
// On success every reference in [i, j) is skipped and the cursor moves to
// j+1. Otherwise only i is skipped and the cursor moves to i+1, so later
// iterations may try the same candidates again.
func (c *Controller) search(ctx context.Context, st state, refs []string, i int) (state, int) {
	end := min(i+c.maxSkip+1, len(refs))
	failures := 0
	for j := i + 1; j < end; j++ {
		if failures >= c.maxSkip {
			break
		}
		if ctx.Err() != nil {
			return st, i
		}

		candidate := refs[j]
		img, ok := c.load(ctx, candidate, j, true)
		if !ok {
			continue
		}

		c.emit(Event{Kind: EventAttempt, Ref: candidate, Index: j, Lookahead: true})
		var status Status
		var err error
		st, status, err = c.merge(ctx, st, candidate, img)
		if !status.OK() {
			c.emit(Event{Kind: EventMergeFailed, Ref: candidate, Index: j, Lookahead: true, Status: status, Err: err})
			failures++
			continue
		}

		for k := i; k < j; k++ {
			st.skipped = append(st.skipped, refs[k])
			c.emit(Event{Kind: EventSkipped, Ref: refs[k], Index: k, Reason: ReasonBypassed})
		}
		c.emit(Event{Kind: EventMerged, Ref: candidate, Index: j, Lookahead: true, Status: status})
		return st, j + 1
	}

	ref := refs[i]
	c.emit(Event{Kind: EventExhausted, Ref: ref, Index: i})
	st.skipped = append(st.skipped, ref)
	c.emit(Event{Kind: EventSkipped, Ref: ref, Index: i, Reason: ReasonNoCompatible})
	return st, i + 1
}

// merge attempts to stitch img onto the current panorama. img is released
// before merge returns. On success the previous panorama is released and
// replaced.
func (c *Controller) merge(ctx context.Context, st state, ref string, img Image) (state, Status, error) {
	defer img.Close()

	status, pano, err := c.attempt(ctx, st.pano, img)
	st.attempts++
	if !status.OK() {
		return st, status, err
	}

	prev := st.pano
	st.pano = pano
	st.used = append(st.used, ref)
	if prev != nil {
		_ = prev.Close()
	}
	return st, StatusOK, nil
}

// attempt calls the stitch primitive and normalizes faults, returned errors
// and panics alike, to StatusFailed.
func (c *Controller) attempt(ctx context.Context, pano, img Image) (status Status, out Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, out, err = StatusFailed, nil, fmt.Errorf("stitch primitive panicked: %v", r)
		}
	}()

	status, out, err = c.stitcher.Stitch(ctx, []Image{pano, img})
	switch {
	case err != nil:
		status = StatusFailed
	case status.OK() && out == nil:
		status, err = StatusFailed, errors.New("stitch primitive returned no panorama")
	}
	if !status.OK() {
		if out != nil {
			_ = out.Close()
		}
		return status, nil, err
	}
	return status, out, nil
}

func (c *Controller) load(ctx context.Context, ref string, index int, lookahead bool) (Image, bool) {
	img, err := c.loader.Load(ctx, ref)
	if err == nil && img == nil {
		err = errors.New("loader returned no image")
	}
	if err != nil {
		c.emit(Event{Kind: EventLoadFailed, Ref: ref, Index: index, Lookahead: lookahead, Err: err})
		return nil, false
	}
	return img, true
}

func (c *Controller) finish(st state, err error) Result {
	res := Result{
		Used:     st.used,
		Skipped:  st.skipped,
		Attempts: st.attempts,
		Err:      err,
	}
	if len(st.used) > 1 {
		res.Status = StatusOK
		res.Panorama = st.pano
		return res
	}

	res.Status = StatusFailed
	if st.pano != nil {
		_ = st.pano.Close()
	}
	if res.Err == nil {
		res.Err = ErrNoPanorama
	}
	return res
}

func (c *Controller) emit(ev Event) {
	c.observer.OnEvent(ev)
}

func cloneRefs(refs []string) []string {
	if len(refs) == 0 {
		return []string{}
	}
	out := make([]string, len(refs))
	copy(out, refs)
	return out
}
