package engine

import (
	"context"
	"time"
)

// Driver is the browser automation surface the engine polls against.
// Implementations must be safe to call repeatedly from a single goroutine;
// the engine never calls a Driver concurrently.
type Driver interface {
	// Find resolves loc in the current document. It returns (nil, nil) when
	// nothing matches; errors are reserved for driver failures.
	Find(ctx context.Context, loc Locator) (Element, error)

	// Navigate loads uri in the current top-level browsing context.
	Navigate(ctx context.Context, uri string) error

	// CurrentURL returns the address of the top-level document.
	CurrentURL(ctx context.Context) (string, error)

	// SwitchFrame changes the document subsequent Find calls resolve against.
	SwitchFrame(ctx context.Context, frame FrameRef) error
}

// Element is a live handle to a resolved element. Handles are only valid for
// the tick that produced them.
type Element interface {
	// Visible reports whether the element is displayed.
	Visible(ctx context.Context) (bool, error)

	// Enabled reports whether the element accepts interaction.
	Enabled(ctx context.Context) (bool, error)

	// Click clicks the element.
	Click(ctx context.Context) error

	// Clear empties an input element.
	Clear(ctx context.Context) error

	// Type sends keystrokes to the element. text is only valid for the
	// duration of the call; implementations that keep it must copy it.
	Type(ctx context.Context, text string) error

	// Value returns the current value of an input element.
	Value(ctx context.Context) (string, error)

	// Submit submits the form owning the element.
	Submit(ctx context.Context) error
}

// FrameRef identifies a browsing context to switch into.
type FrameRef struct {
	// Top selects the top-level document. When set, the other fields are ignored.
	Top bool

	// Locator identifies an iframe element in the current document.
	Locator Locator

	// Index selects the n-th frame of the current document when Locator is empty.
	Index int
}

// TopFrame is the FrameRef for the top-level document.
var TopFrame = FrameRef{Top: true}

// BusySignal reports whether the application is mid-transaction.
type BusySignal interface {
	// Busy returns true while the application's busy indicator is present.
	Busy(ctx context.Context) (bool, error)
}

// BusySignalFunc adapts a function to the BusySignal interface.
type BusySignalFunc func(ctx context.Context) (bool, error)

// Busy implements BusySignal.
func (f BusySignalFunc) Busy(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Observer receives engine measurements. telemetry.Metrics implements it.
type Observer interface {
	RecordPoll(condition string, satisfied bool, duration time.Duration)
	RecordRetry(name string, rounds int, succeeded bool)
	RecordBarrier(idle bool, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) RecordPoll(string, bool, time.Duration) {}
func (nopObserver) RecordRetry(string, int, bool) {}
func (nopObserver) RecordBarrier(bool, time.Duration) {}
