package offlinecache

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/offlinecache/fetch"
)

// Event is a platform event delivered to the worker.
type Event interface {
	eventName() string
}

type (
	InstallEvent  struct{}
	ActivateEvent struct{}
	FetchEvent    struct{ Request fetch.Request }
	MessageEvent  struct{ Message Message }
	// SyncEvent with a tag other than SyncTag is ignored.
	SyncEvent struct{ Tag string }
)

func (InstallEvent) eventName() string  { return "install" }
func (ActivateEvent) eventName() string { return "activate" }
func (FetchEvent) eventName() string    { return "fetch" }
func (MessageEvent) eventName() string  { return "message" }
func (SyncEvent) eventName() string     { return "sync" }

// Outcome is the result of one event. At most one of the result fields is
// set, matching the event kind.
type Outcome struct {
	Response *fetch.Response
	Install  *InstallReport
	Message  *MessageResult
	Sync     *SyncReport
	Err      error
}

// Dispatch delivers ev and returns once all work it started has settled, so
// the harness (an HTTP host, a test) decides scheduling.
func (w *Worker) Dispatch(ctx context.Context, ev Event) Outcome {
	if ev == nil {
		return Outcome{Err: fmt.Errorf("offlinecache: nil event")}
	}
	w.log.Debug("dispatch", Fields{"event": ev.eventName()})
	switch e := ev.(type) {
	case InstallEvent:
		r, err := w.Install(ctx)
		return Outcome{Install: &r, Err: err}
	case ActivateEvent:
		return Outcome{Err: w.Activate(ctx)}
	case FetchEvent:
		r, err := w.HandleFetch(ctx, e.Request)
		return Outcome{Response: &r, Err: err}
	case MessageEvent:
		r, err := w.HandleMessage(ctx, e.Message)
		return Outcome{Message: &r, Err: err}
	case SyncEvent:
		if e.Tag != SyncTag {
			w.log.Debug("sync tag ignored", Fields{"tag": e.Tag})
			return Outcome{}
		}
		r, err := w.Sync(ctx)
		return Outcome{Sync: &r, Err: err}
	default:
		return Outcome{Err: fmt.Errorf("offlinecache: unsupported event %T", ev)}
	}
}
