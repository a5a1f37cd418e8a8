// Package enginetest provides an in-memory engine.Driver for tests.
package enginetest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/pageflow/pageflow/pkg/engine"
)

// ErrStale is returned by Element methods after the element was detached.
var ErrStale = errors.New("stale element reference")

// Driver is a scripted, thread-safe engine.Driver. Elements are keyed by
// locator query; the strategy is ignored.
type Driver struct {
	mu       sync.Mutex
	elements map[string]*Element
	finds    map[string]int
	findErrs map[string]error
	url      string

	// Navigations records every Navigate call.
	Navigations []string

	// Frames records every SwitchFrame call.
	Frames []engine.FrameRef

	// OnNavigate runs after a navigation is recorded.
	OnNavigate func(d *Driver, uri string)
}

// NewDriver returns an empty Driver.
func NewDriver() *Driver {
	return &Driver{
		elements: make(map[string]*Element),
		finds:    make(map[string]int),
		findErrs: make(map[string]error),
	}
}

// Add places el in the document under query and returns it.
func (d *Driver) Add(query string, el *Element) *Element {
	if el == nil {
		el = &Element{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elements[query] = el
	return el
}

// Remove detaches the element at query. Held handles go stale.
func (d *Driver) Remove(query string) {
	d.mu.Lock()
	el := d.elements[query]
	delete(d.elements, query)
	d.mu.Unlock()
	if el != nil {
		el.detach()
	}
}

// Get returns the element at query, or nil.
func (d *Driver) Get(query string) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.elements[query]
}

// FailFind makes Find for query return err until cleared with a nil err.
func (d *Driver) FailFind(query string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.findErrs, query)
		return
	}
	d.findErrs[query] = err
}

// Finds returns how many times query was resolved.
func (d *Driver) Finds(query string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finds[query]
}

// NavigationCount returns the number of Navigate calls.
func (d *Driver) NavigationCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Navigations)
}

// Find implements engine.Driver.
func (d *Driver) Find(ctx context.Context, loc engine.Locator) (engine.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finds[loc.Query]++
	if err := d.findErrs[loc.Query]; err != nil {
		return nil, err
	}
	el, ok := d.elements[loc.Query]
	if !ok {
		return nil, nil
	}
	return el, nil
}

// Navigate implements engine.Driver.
func (d *Driver) Navigate(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	d.Navigations = append(d.Navigations, uri)
	d.url = uri
	hook := d.OnNavigate
	d.mu.Unlock()
	if hook != nil {
		hook(d, uri)
	}
	return nil
}

// CurrentURL implements engine.Driver.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

// SwitchFrame implements engine.Driver.
func (d *Driver) SwitchFrame(ctx context.Context, frame engine.FrameRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Frames = append(d.Frames, frame)
	return nil
}

// Element is a scripted engine.Element. Zero value is a visible, enabled,
// empty element.
type Element struct {
	mu       sync.Mutex
	detached bool
	value    string
	clicks   int
	submits  int
	typed    []string

	Hidden   bool
	Disabled bool

	// OnClick runs after each click.
	OnClick func()

	// OnSubmit runs after each submit with the value at submission time.
	OnSubmit func(value string)

	// TypeFilter rewrites typed text before it lands, to simulate dropped
	// keystrokes. round counts Type calls starting at 1.
	TypeFilter func(round int, text string) string
}

func (e *Element) detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detached = true
}

// SetHidden toggles visibility.
func (e *Element) SetHidden(hidden bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Hidden = hidden
}

// SetDisabled toggles interactivity.
func (e *Element) SetDisabled(disabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Disabled = disabled
}

// Clicks returns the number of clicks.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Submits returns the number of submits.
func (e *Element) Submits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submits
}

// Typed returns every string typed into the element, after filtering.
func (e *Element) Typed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.typed...)
}

// Visible implements engine.Element.
func (e *Element) Visible(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return false, ErrStale
	}
	return !e.Hidden, nil
}

// Enabled implements engine.Element.
func (e *Element) Enabled(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return false, ErrStale
	}
	return !e.Disabled, nil
}

// Click implements engine.Element.
func (e *Element) Click(ctx context.Context) error {
	e.mu.Lock()
	if e.detached {
		e.mu.Unlock()
		return ErrStale
	}
	e.clicks++
	hook := e.OnClick
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

// Clear implements engine.Element.
func (e *Element) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return ErrStale
	}
	e.value = ""
	return nil
}

// Type implements engine.Element.
func (e *Element) Type(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return ErrStale
	}
	// text may live in locked memory that is wiped once the caller returns.
	text = strings.Clone(text)
	if e.TypeFilter != nil {
		text = e.TypeFilter(len(e.typed)+1, text)
	}
	e.typed = append(e.typed, text)
	e.value += text
	return nil
}

// Value implements engine.Element.
func (e *Element) Value(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return "", ErrStale
	}
	return e.value, nil
}

// SetValue overwrites the element's value directly.
func (e *Element) SetValue(v string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = v
}

// Submit implements engine.Element.
func (e *Element) Submit(ctx context.Context) error {
	e.mu.Lock()
	if e.detached {
		e.mu.Unlock()
		return ErrStale
	}
	e.submits++
	v := e.value
	hook := e.OnSubmit
	e.mu.Unlock()
	if hook != nil {
		hook(v)
	}
	return nil
}

// Observer counts engine measurements.
type Observer struct {
	mu       sync.Mutex
	Polls    int
	Retries  int
	Barriers int
}

// RecordPoll implements engine.Observer.
func (o *Observer) RecordPoll(string, bool, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Polls++
}

// RecordRetry implements engine.Observer.
func (o *Observer) RecordRetry(string, int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Retries++
}

// RecordBarrier implements engine.Observer.
func (o *Observer) RecordBarrier(bool, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Barriers++
}
