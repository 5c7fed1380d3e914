package stitch

import (
	"log/slog"
	"path/filepath"
)

// EventKind identifies a decision point of the controller.
type EventKind string

const (
	EventLoadFailed  EventKind = "load_failed"
	EventAttempt     EventKind = "attempt"
	EventMerged      EventKind = "merged"
	EventMergeFailed EventKind = "merge_failed"
	EventSkipped     EventKind = "skipped"
	EventExhausted   EventKind = "exhausted"
)

// SkipReason explains why a reference landed in the skipped list.
type SkipReason string

const (
	ReasonLoadFailed   SkipReason = "load_failed"
	ReasonBypassed     SkipReason = "bypassed"
	ReasonNoCompatible SkipReason = "no_compatible"
)

// Event describes a single controller decision. Index is the position of Ref
// in the input sequence.
type Event struct {
	Kind      EventKind  `json:"kind"`
	Ref       string     `json:"ref"`
	Index     int        `json:"index"`
	Lookahead bool       `json:"lookahead,omitempty"`
	Status    Status     `json:"status"`
	Reason    SkipReason `json:"reason,omitempty"`
	Err       error      `json:"-"`
}

// Observer receives controller events. Calls happen synchronously on the
// goroutine running the controller.
type Observer interface {
	OnEvent(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

type nopObserver struct{}

func (nopObserver) OnEvent(Event) {}

// MultiObserver fans events out to every non-nil observer in order.
func MultiObserver(observers ...Observer) Observer {
	var list []Observer
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return ObserverFunc(func(ev Event) {
		for _, o := range list {
			o.OnEvent(ev)
		}
	})
}

// LogObserver reports events through logger.
func LogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return ObserverFunc(func(ev Event) {
		name := filepath.Base(ev.Ref)
		switch ev.Kind {
		case EventLoadFailed:
			if ev.Lookahead {
				logger.Debug("candidate could not be loaded", "image", ev.Ref, "error", ev.Err)
				return
			}
			logger.Warn("could not load image, skipping", "image", ev.Ref, "error", ev.Err)
		case EventAttempt:
			if ev.Lookahead {
				logger.Info("trying to skip to", "image", name)
			} else {
				logger.Info("attempting to stitch", "image", name)
			}
		case EventMerged:
			logger.Info("successfully stitched", "image", name)
		case EventMergeFailed:
			if ev.Lookahead {
				logger.Debug("candidate failed", "image", name, "status", int(ev.Status))
				return
			}
			logger.Warn("failed to stitch", "image", name, "status", int(ev.Status), "error", ev.Err)
		case EventSkipped:
			logger.Info("skipped", "image", name, "reason", ev.Reason)
		case EventExhausted:
			logger.Warn("no compatible image found after", "image", name)
		}
	})
}
