package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"log/slog"

	"panostitch/internal/logging"
	"panostitch/internal/report"
	"panostitch/internal/stitch"
	"panostitch/internal/storage"
)

var (
	// ErrQueueFull is returned by Submit when no worker can take the job.
	ErrQueueFull = errors.New("job queue is full")
	// ErrStopped is returned by Submit after Stop, and is the error of runs
	// still queued when the pipeline stopped.
	ErrStopped = errors.New("pipeline stopped")
)

// Options tune a single run. Zero values mean "no restriction".
type Options struct {
	MaxSkip int           `json:"max_skip"`
	Engine  string        `json:"engine,omitempty"`
	Crop    bool          `json:"crop"`
	Start   string        `json:"start,omitempty"`
	Count   int           `json:"count,omitempty"`
	Settle  time.Duration `json:"settle,omitempty"`
	// Report, when set, is the path of the JSON report written after the run.
	Report string `json:"report,omitempty"`
}

// Job represents a single stitching request over one directory.
type Job struct {
	ID       string  `json:"id"`
	InputDir string  `json:"input_dir"`
	Output   string  `json:"output"`
	Options  Options `json:"options"`
}

// Result captures the outcome of a Job.
type Result struct {
	Job    Job
	Report *report.Report
	Error  error
	Meta   map[string]any
}

// EventMessage is a controller event tagged with the run it belongs to.
type EventMessage struct {
	RunID string       `json:"run_id"`
	Event stitch.Event `json:"event"`
	Error string       `json:"error,omitempty"`
}

// Processor executes a job and returns a Result. obs receives the
// controller's decisions while the job runs.
type Processor interface {
	Process(ctx context.Context, job Job, obs stitch.Observer) Result
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	queueMu   sync.Mutex
	stopped   bool
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Result
	events    map[int]chan EventMessage
	nextSubID int
}

// New creates a Pipeline running concurrency workers over processor. The
// queue holds queueSize pending jobs, or twice the concurrency when
// queueSize is not positive.
func New(ctx context.Context, concurrency, queueSize int, logger *slog.Logger, store *storage.Store, processor Processor) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < 1 {
		queueSize = concurrency * 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: processor,
		log:       logger,
		jobs:      make(chan Job, queueSize),
		cancel:    cancel,
		store:     store,
		subs:      make(map[int]chan Result),
		events:    make(map[int]chan EventMessage),
	}

	p.startOnce.Do(func() {
		for i := 0; i < concurrency; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})

	return p
}

// Submit adds a job to the processing queue. A job rejected because the
// queue is full is recorded as failed.
func (p *Pipeline) Submit(job Job) error {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	if p.stopped {
		return ErrStopped
	}

	optsJSON, _ := json.Marshal(job.Options)
	if err := p.store.RecordRunQueued(storage.RunRecord{
		ID:          job.ID,
		InputDir:    job.InputDir,
		OutputPath:  job.Output,
		Engine:      job.Options.Engine,
		MaxSkip:     job.Options.MaxSkip,
		OptionsJSON: string(optsJSON),
	}); err != nil {
		p.log.Warn("failed to record queued run", "id", job.ID, "error", err)
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		p.recordRejected(job, ErrQueueFull)
		return ErrQueueFull
	}
}

func (p *Pipeline) recordRejected(job Job, err error) {
	if rerr := p.store.RecordRunResult(job.ID, storage.RunOutcome{
		Status:       storage.StatusFailed,
		StitchStatus: int(stitch.StatusFailed),
		Error:        err.Error(),
	}, nil); rerr != nil {
		p.log.Warn("failed to record rejected run", "id", job.ID, "error", rerr)
	}
}

// Stop signals workers to exit and waits for completion. Jobs still queued
// are recorded as failed with ErrStopped and reported to subscribers.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.queueMu.Lock()
		p.stopped = true
		close(p.jobs)
		p.queueMu.Unlock()

		p.cancel()
		p.wg.Wait()

		for job := range p.jobs {
			p.drop(job)
		}

		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		for id, ch := range p.events {
			close(ch)
			delete(p.events, id)
		}
		p.mu.Unlock()
	})
}

// drop fails a queued job that will never run.
func (p *Pipeline) drop(job Job) {
	p.log.Warn("dropping queued run", "run", job.ID)
	p.recordRejected(job, ErrStopped)
	p.broadcast(Result{Job: job, Error: ErrStopped})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				p.drop(job)
				continue
			}
			p.run(ctx, id, job)
		}
	}
}

func (p *Pipeline) run(ctx context.Context, worker int, job Job) {
	start := time.Now()
	log := p.log.With("run", job.ID)
	log.Debug("worker picked up run", "worker", worker, "input", job.InputDir)

	if err := p.store.RecordRunStart(job.ID); err != nil {
		log.Warn("failed to record run start", "error", err)
	}

	obs := stitch.MultiObserver(
		stitch.LogObserver(log),
		stitch.ObserverFunc(func(ev stitch.Event) {
			p.publish(EventMessage{RunID: job.ID, Event: ev, Error: errString(ev.Err)})
		}),
	)
	res := p.processor.Process(ctx, job, obs)
	res.Job = job
	duration := time.Since(start)

	status := storage.StatusCompleted
	if res.Error != nil {
		status = storage.StatusFailed
		logging.LogRunError(p.log, job.ID, duration, res.Error, map[string]any{
			"input":   job.InputDir,
			"output":  job.Output,
			"options": job.Options,
		})
	} else {
		logging.LogRunComplete(p.log, job.ID, duration, res.Meta)
	}

	out := storage.RunOutcome{Status: status, StitchStatus: int(stitch.StatusFailed), Error: errString(res.Error)}
	if r := res.Report; r != nil {
		out.StitchStatus = int(r.Status)
		out.Engine = r.Engine
		out.OutputPath = r.OutputFile
		out.Used = len(r.Used)
		out.Skipped = len(r.Skipped)
		out.Attempts = r.Attempts
	}
	if err := p.store.RecordRunResult(job.ID, out, res.Meta); err != nil {
		log.Warn("failed to record run result", "error", err)
	}

	p.broadcast(res)
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

// SubscribeEvents returns a channel of controller events for every run and
// an unsubscribe function. Slow subscribers lose events rather than stall
// the workers.
func (p *Pipeline) SubscribeEvents() (<-chan EventMessage, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan EventMessage, 64)
	p.events[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.events[id]; ok {
			close(c)
			delete(p.events, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "run", res.Job.ID)
		}
	}
}

func (p *Pipeline) publish(msg EventMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.events {
		select {
		case ch <- msg:
		default:
		}
	}
}

// NewID returns a run identifier such as "pano-20250102T150405-0042".
func NewID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}
