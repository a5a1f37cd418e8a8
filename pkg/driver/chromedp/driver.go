package chromedp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	dp "github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/pageflow/pageflow/pkg/engine"
)

// Options configures the browser behind a Driver.
type Options struct {
	// RemoteURL attaches to a running browser instead of launching one.
	// Either a ws:// debugger URL or an http:// DevTools endpoint.
	RemoteURL string

	// Headless launches the browser without a window. Ignored with RemoteURL.
	Headless bool

	// ExecPath overrides the browser binary. Ignored with RemoteURL.
	ExecPath string

	// ExtraFlags are passed to a launched browser.
	ExtraFlags map[string]interface{}

	// Logger receives chromedp's own diagnostics at debug level.
	Logger zerolog.Logger
}

// Driver implements engine.Driver on a chromedp tab. Elements are addressed
// through remote object handles, which the browser invalidates on
// navigation; that matches the engine's per-tick handle contract.
type Driver struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	// frames is the path from the top document to the current one.
	frames []engine.FrameRef
}

var _ engine.Driver = (*Driver)(nil)

// New starts or attaches to a browser and opens a tab. The returned Driver
// must be closed. ctx bounds the browser's lifetime.
func New(ctx context.Context, opts Options) (*Driver, error) {
	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)

	if opts.RemoteURL != "" {
		allocCtx, cancelAlloc = dp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		allocOpts := append(dp.DefaultExecAllocatorOptions[:], dp.Flag("headless", opts.Headless))
		if opts.ExecPath != "" {
			allocOpts = append(allocOpts, dp.ExecPath(opts.ExecPath))
		}
		for name, value := range opts.ExtraFlags {
			allocOpts = append(allocOpts, dp.Flag(name, value))
		}
		allocCtx, cancelAlloc = dp.NewExecAllocator(ctx, allocOpts...)
	}

	logger := opts.Logger.With().Str("component", "chromedp").Logger()
	tabCtx, cancelTab := dp.NewContext(allocCtx,
		dp.WithLogf(func(format string, args ...interface{}) {
			logger.Debug().Msgf(format, args...)
		}),
		dp.WithErrorf(func(format string, args ...interface{}) {
			logger.Warn().Msgf(format, args...)
		}),
	)

	// The first Run starts the browser and attaches to the tab.
	if err := dp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, engine.NewConfigurationError("failed to start browser", err).WithOperation("driver.start")
	}

	logger.Info().
		Bool("remote", opts.RemoteURL != "").
		Bool("headless", opts.Headless).
		Msg("Browser session started")

	return &Driver{
		ctx: tabCtx,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
		logger: logger,
	}, nil
}

// NewFromContext wraps an existing chromedp context. Close does not cancel
// it.
func NewFromContext(tabCtx context.Context, logger zerolog.Logger) *Driver {
	return &Driver{
		ctx:    tabCtx,
		cancel: func() {},
		logger: logger.With().Str("component", "chromedp").Logger(),
	}
}

// Close shuts the tab and, for launched browsers, the browser process.
func (d *Driver) Close() error {
	d.cancel()
	return nil
}

// run executes fn on the tab. Cancelling ctx aborts the call without
// closing the tab.
func (d *Driver) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	runCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := dp.Run(runCtx, dp.ActionFunc(fn))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var classified *engine.Error
	if errors.As(err, &classified) {
		return err
	}
	return engine.NewTransientError(fmt.Sprintf("browser %s failed", op), err).
		WithOperation("driver." + op).
		WithCode(engine.ErrCodeDriver)
}

// Navigate implements engine.Driver. It returns after the load event and
// resets the frame to the top document.
func (d *Driver) Navigate(ctx context.Context, uri string) error {
	d.frames = nil
	return d.run(ctx, "navigate", func(ctx context.Context) error {
		return dp.Navigate(uri).Do(ctx)
	})
}

// CurrentURL implements engine.Driver.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	err := d.run(ctx, "location", func(ctx context.Context) error {
		return dp.Location(&loc).Do(ctx)
	})
	return loc, err
}

// SwitchFrame implements engine.Driver. Frame references are relative to the
// current document and are re-resolved on every Find, so a reloaded frame
// keeps working. Cross-origin frames cannot be entered.
func (d *Driver) SwitchFrame(ctx context.Context, frame engine.FrameRef) error {
	if frame.Top {
		d.frames = nil
		return nil
	}

	path := append(append([]engine.FrameRef(nil), d.frames...), frame)
	err := d.run(ctx, "switch-frame", func(ctx context.Context) error {
		doc, err := d.document(ctx, path)
		if err != nil {
			return err
		}
		if doc == "" {
			return fmt.Errorf("frame %s is not present or not accessible", describeFrame(frame))
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.frames = path
	return nil
}

func describeFrame(f engine.FrameRef) string {
	if !f.Locator.IsZero() {
		return f.Locator.String()
	}
	return fmt.Sprintf("#%d", f.Index)
}

// Find implements engine.Driver.
func (d *Driver) Find(ctx context.Context, loc engine.Locator) (engine.Element, error) {
	if loc.IsZero() {
		return nil, engine.NewConfigurationError("locator has no query", nil).WithDetail("locator", loc.Name)
	}

	var id runtime.RemoteObjectID
	err := d.run(ctx, "find", func(ctx context.Context) error {
		doc, err := d.document(ctx, d.frames)
		if err != nil {
			return err
		}
		if doc == "" {
			return fmt.Errorf("current frame is no longer present")
		}
		id, err = d.resolve(ctx, doc, loc)
		return err
	})
	if err != nil || id == "" {
		return nil, err
	}
	return &Element{driver: d, id: id, loc: loc}, nil
}

// resolve looks up loc below root, honouring its scope chain. It returns ""
// when any link of the chain is missing.
func (d *Driver) resolve(ctx context.Context, root runtime.RemoteObjectID, loc engine.Locator) (runtime.RemoteObjectID, error) {
	if loc.Scope != nil {
		scope, err := d.resolve(ctx, root, *loc.Scope)
		if err != nil || scope == "" {
			return "", err
		}
		root = scope
	}

	res, err := callOn(ctx, root, bind(resolveFn, string(loc.StrategyOrDefault()), loc.Query), false)
	if err != nil {
		if isSyntaxError(err) {
			return "", engine.NewConfigurationError(fmt.Sprintf("invalid locator %s", loc), err)
		}
		return "", err
	}
	return res.ObjectID, nil
}

// document returns the Document object at the end of path, or "" if a frame
// along it is missing.
func (d *Driver) document(ctx context.Context, path []engine.FrameRef) (runtime.RemoteObjectID, error) {
	res, exc, err := runtime.Evaluate("document").Do(ctx)
	if err != nil {
		return "", err
	}
	if exc != nil {
		return "", fmt.Errorf("script exception: %s", exc.Text)
	}
	doc := res.ObjectID

	for _, f := range path {
		var next *runtime.RemoteObject
		if !f.Locator.IsZero() {
			el, err := d.resolve(ctx, doc, f.Locator)
			if err != nil || el == "" {
				return "", err
			}
			next, err = callOn(ctx, el, contentDocumentFn, false)
			if err != nil {
				return "", err
			}
		} else {
			next, err = callOn(ctx, doc, bind(frameByIndexFn, f.Index), false)
			if err != nil {
				return "", err
			}
		}
		if next.ObjectID == "" {
			return "", nil
		}
		doc = next.ObjectID
	}

	return doc, nil
}

// callOn invokes fn with this bound to obj.
func callOn(ctx context.Context, obj runtime.RemoteObjectID, fn string, byValue bool) (*runtime.RemoteObject, error) {
	res, exc, err := runtime.CallFunctionOn(fn).
		WithObjectID(obj).
		WithReturnByValue(byValue).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if exc != nil {
		msg := exc.Text
		if exc.Exception != nil && exc.Exception.Description != "" {
			msg = exc.Exception.Description
		}
		return nil, fmt.Errorf("script exception: %s", msg)
	}
	if res == nil {
		return &runtime.RemoteObject{}, nil
	}
	return res, nil
}

func isSyntaxError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SyntaxError") || strings.Contains(msg, "is not a valid")
}
