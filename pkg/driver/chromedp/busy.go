package chromedp

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/runtime"

	"github.com/pageflow/pageflow/pkg/engine"
)

// ScriptBusySignal reports busy while a JavaScript expression, evaluated in
// the top-level document, is true.
type ScriptBusySignal struct {
	Driver *Driver

	// Expression defaults to DefaultBusyScript.
	Expression string
}

var _ engine.BusySignal = ScriptBusySignal{}

// Busy implements engine.BusySignal.
func (s ScriptBusySignal) Busy(ctx context.Context) (bool, error) {
	expr := s.Expression
	if expr == "" {
		expr = DefaultBusyScript
	}

	var busy bool
	err := s.Driver.run(ctx, "busy", func(ctx context.Context) error {
		res, exc, err := runtime.Evaluate(expr).WithReturnByValue(true).Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("busy script exception: %s", exc.Text)
		}
		busy = string(res.Value) == "true"
		return nil
	})
	return busy, err
}
