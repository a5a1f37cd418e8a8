package redirect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/pageflow/pageflow/pkg/auth"
	"github.com/pageflow/pageflow/pkg/engine"
	"github.com/pageflow/pageflow/pkg/otp"
)

// DefaultTimeout bounds a whole script run.
const DefaultTimeout = 2 * time.Minute

// Delegate runs a Starlark script in place of the inline password step. It
// implements auth.RedirectDelegate.
type Delegate struct {
	name    string
	program *starlark.Program
	timeout time.Duration
	logger  zerolog.Logger
	codes   *otp.Generator
}

var _ auth.RedirectDelegate = (*Delegate)(nil)

// Option configures a Delegate.
type Option func(*Delegate)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(dl *Delegate) {
		if d > 0 {
			dl.timeout = d
		}
	}
}

// WithLogger sets the logger that receives print() output and step logs.
func WithLogger(logger zerolog.Logger) Option {
	return func(dl *Delegate) {
		dl.logger = logger
	}
}

// WithCodeGenerator overrides the one-time code generator, mainly for tests.
func WithCodeGenerator(g *otp.Generator) Option {
	return func(dl *Delegate) {
		dl.codes = g
	}
}

// New compiles source. Syntax errors and references to undefined names are
// reported here, before any browser work starts.
func New(name, source string, opts ...Option) (*Delegate, error) {
	d := &Delegate{
		name:    name,
		timeout: DefaultTimeout,
		logger:  zerolog.Nop(),
		codes:   otp.NewGenerator(),
	}
	for _, opt := range opts {
		opt(d)
	}

	_, program, err := starlark.SourceProgramOptions(fileOptions, name, source, isPredeclared)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("invalid redirect script %s", name), err)
	}
	d.program = program
	d.logger = d.logger.With().Str("component", "redirect").Str("script", name).Logger()

	return d, nil
}

// Load reads and compiles a script file.
func Load(path string, opts ...Option) (*Delegate, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read redirect script %s", path), err)
	}
	return New(path, string(src), opts...)
}

// HandleRedirect implements auth.RedirectDelegate. The script's top level
// runs first; if it defines a function named login, that is called next.
func (d *Delegate) HandleRedirect(ctx context.Context, req auth.RedirectRequest) error {
	if req.Interactor == nil {
		return engine.NewConfigurationError("redirect request has no interactor", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	thread := &starlark.Thread{
		Name: "redirect:" + d.name,
		Print: func(_ *starlark.Thread, msg string) {
			d.logger.Info().Msg(msg)
		},
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	env := &env{ctx: ctx, req: req, codes: d.codes, logger: d.logger}
	predeclared := env.builtins()

	globals, err := d.program.Init(thread, predeclared)
	if err == nil {
		if fn, ok := globals["login"].(starlark.Callable); ok {
			_, err = starlark.Call(thread, fn, nil, nil)
		}
	}

	if err != nil {
		return d.classify(ctx, err, time.Since(start))
	}

	d.logger.Debug().Dur("duration", time.Since(start)).Msg("Redirect script completed")
	return nil
}

// classify keeps the engine class of errors raised by builtins; anything
// else the script does wrong is an authentication failure.
func (d *Delegate) classify(ctx context.Context, err error, elapsed time.Duration) error {
	if ctx.Err() != nil {
		d.logger.Warn().Dur("duration", elapsed).Msg("Redirect script cancelled")
		return ctx.Err()
	}

	var classified *engine.Error
	if errors.As(err, &classified) {
		return classified
	}

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		d.logger.Error().Str("backtrace", evalErr.Backtrace()).Msg("Redirect script failed")
		return engine.NewAuthenticationError(fmt.Sprintf("redirect script %s failed: %s", d.name, evalErr.Msg), nil)
	}

	return engine.NewAuthenticationError(fmt.Sprintf("redirect script %s failed", d.name), err)
}

// fileOptions lets scripts branch and loop at top level, since most
// redirect scripts are a flat sequence of steps.
var fileOptions = &syntax.FileOptions{
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// isPredeclared lists the names scripts may reference without defining.
func isPredeclared(name string) bool {
	_, ok := builtinNames[name]
	return ok
}
