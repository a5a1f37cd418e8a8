package chromedp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	dp "github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/pageflow/pageflow/pkg/engine"
)

// Element implements engine.Element on a remote object handle.
type Element struct {
	driver *Driver
	id     runtime.RemoteObjectID
	loc    engine.Locator
}

var _ engine.Element = (*Element)(nil)

func (e *Element) boolCall(ctx context.Context, op, fn string) (bool, error) {
	var out bool
	err := e.driver.run(ctx, op, func(ctx context.Context) error {
		res, err := callOn(ctx, e.id, fn, true)
		if err != nil {
			return err
		}
		out = string(res.Value) == "true"
		return nil
	})
	return out, err
}

// Visible implements engine.Element.
func (e *Element) Visible(ctx context.Context) (bool, error) {
	return e.boolCall(ctx, "visible", visibleFn)
}

// Enabled implements engine.Element.
func (e *Element) Enabled(ctx context.Context) (bool, error) {
	return e.boolCall(ctx, "enabled", enabledFn)
}

// Click implements engine.Element. It dispatches a real mouse click at the
// centre of the element's first content quad and falls back to a DOM click
// for elements without layout boxes.
func (e *Element) Click(ctx context.Context) error {
	return e.driver.run(ctx, "click", func(ctx context.Context) error {
		if err := dom.ScrollIntoViewIfNeeded().WithObjectID(e.id).Do(ctx); err != nil {
			return err
		}

		quads, err := dom.GetContentQuads().WithObjectID(e.id).Do(ctx)
		if err != nil || len(quads) == 0 || len(quads[0]) < 8 {
			_, err := callOn(ctx, e.id, clickFallbackFn, false)
			return err
		}

		x, y := centre(quads[0])
		return dp.MouseClickXY(x, y).Do(ctx)
	})
}

func centre(q dom.Quad) (float64, float64) {
	var x, y float64
	for i := 0; i < 8; i += 2 {
		x += q[i]
		y += q[i+1]
	}
	return x / 4, y / 4
}

// Clear implements engine.Element.
func (e *Element) Clear(ctx context.Context) error {
	return e.driver.run(ctx, "clear", func(ctx context.Context) error {
		_, err := callOn(ctx, e.id, clearFn, false)
		return err
	})
}

// Type implements engine.Element. Text is sent as key events to the focused
// element and is never included in errors.
func (e *Element) Type(ctx context.Context, text string) error {
	return e.driver.run(ctx, "type", func(ctx context.Context) error {
		if err := dom.Focus().WithObjectID(e.id).Do(ctx); err != nil {
			return err
		}
		return dp.KeyEvent(text).Do(ctx)
	})
}

// Value implements engine.Element.
func (e *Element) Value(ctx context.Context) (string, error) {
	var out string
	err := e.driver.run(ctx, "value", func(ctx context.Context) error {
		res, err := callOn(ctx, e.id, valueFn, true)
		if err != nil {
			return err
		}
		if len(res.Value) == 0 {
			out = ""
			return nil
		}
		if err := json.Unmarshal([]byte(res.Value), &out); err != nil {
			return fmt.Errorf("unexpected value for %s", e.loc)
		}
		return nil
	})
	return out, err
}

// Submit implements engine.Element. Elements outside a form get an Enter
// key press instead.
func (e *Element) Submit(ctx context.Context) error {
	return e.driver.run(ctx, "submit", func(ctx context.Context) error {
		res, err := callOn(ctx, e.id, submitFn, true)
		if err != nil {
			return err
		}
		if string(res.Value) == "true" {
			return nil
		}
		if err := dom.Focus().WithObjectID(e.id).Do(ctx); err != nil {
			return err
		}
		return dp.KeyEvent(kb.Enter).Do(ctx)
	})
}

// String implements fmt.Stringer.
func (e *Element) String() string {
	return e.loc.String()
}
