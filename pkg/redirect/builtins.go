package redirect

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/pageflow/pageflow/pkg/auth"
	"github.com/pageflow/pageflow/pkg/engine"
	"github.com/pageflow/pageflow/pkg/otp"
)

// builtinNames is the script API. Secrets never become Starlark values:
// type_username, type_password and type_otp read the credential directly.
var builtinNames = map[string]struct{}{
	"struct":           {},
	"target":           {},
	"xpath":            {},
	"css":              {},
	"id":               {},
	"click":            {},
	"click_if_visible": {},
	"set_value":        {},
	"type_username":    {},
	"type_password":    {},
	"type_otp":         {},
	"submit":           {},
	"wait_visible":     {},
	"wait_exists":      {},
	"wait_idle":        {},
	"navigate":         {},
	"current_url":      {},
	"switch_to_frame":  {},
	"switch_to_top":    {},
	"sleep":            {},
	"fail":             {},
}

// env binds builtins to one HandleRedirect call.
type env struct {
	ctx    context.Context
	req    auth.RedirectRequest
	codes  *otp.Generator
	logger zerolog.Logger
}

type builtinFn func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

func (e *env) builtins() starlark.StringDict {
	fns := map[string]builtinFn{
		"xpath":            locatorBuiltin(engine.ByXPath),
		"css":              locatorBuiltin(engine.ByCSS),
		"id":               locatorBuiltin(engine.ByID),
		"click":            e.click,
		"click_if_visible": e.clickIfVisible,
		"set_value":        e.setValue,
		"type_username":    e.typeSecret("username", (*auth.Credential).UseUsername),
		"type_password":    e.typeSecret("password", (*auth.Credential).UsePassword),
		"type_otp":         e.typeOneTimeCode,
		"submit":           e.submit,
		"wait_visible":     e.wait(engine.Visible),
		"wait_exists":      e.wait(engine.Exists),
		"wait_idle":        e.waitIdle,
		"navigate":         e.navigate,
		"current_url":      e.currentURL,
		"switch_to_frame":  e.switchToFrame,
		"switch_to_top":    e.switchToTop,
		"sleep":            e.sleep,
		"fail":             fail,
	}

	dict := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"target": e.targetValue(),
	}
	for name, fn := range fns {
		dict[name] = starlark.NewBuiltin(name, fn)
	}
	return dict
}

func (e *env) targetValue() starlark.Value {
	fields := starlark.StringDict{
		"url":  starlark.String(""),
		"host": starlark.String(""),
		"path": starlark.String(""),
	}
	if t := e.req.Target; t != nil {
		fields["url"] = starlark.String(t.String())
		fields["host"] = starlark.String(t.Hostname())
		fields["path"] = starlark.String(t.Path)
	}
	return starlarkstruct.FromStringDict(starlark.String("target"), fields)
}

// locatorBuiltin builds xpath(query, name="", within=None) and friends.
func locatorBuiltin(strategy engine.Strategy) builtinFn {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			query  string
			name   string
			within starlark.Value = starlark.None
		)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "query", &query, "name?", &name, "within?", &within); err != nil {
			return nil, err
		}
		if query == "" {
			return nil, fmt.Errorf("%s: query must not be empty", b.Name())
		}

		loc := engine.Locator{Name: name, Strategy: strategy, Query: query}
		if within != starlark.None {
			scope, err := toLocator(b.Name(), within)
			if err != nil {
				return nil, err
			}
			loc = loc.Within(scope)
		}
		return &locatorValue{loc: loc}, nil
	}
}

// unpackLocator reads the first positional argument as a locator and
// returns the remaining arguments.
func unpackLocator(b *starlark.Builtin, args starlark.Tuple) (engine.Locator, starlark.Tuple, error) {
	if len(args) == 0 {
		return engine.Locator{}, nil, fmt.Errorf("%s: missing locator argument", b.Name())
	}
	loc, err := toLocator(b.Name(), args[0])
	return loc, args[1:], err
}

func seconds(v starlark.Value, fallback time.Duration) (time.Duration, error) {
	if v == nil || v == starlark.None {
		return fallback, nil
	}
	f, ok := starlark.AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("timeout must be a number of seconds, got %s", v.Type())
	}
	if f < 0 {
		return 0, fmt.Errorf("timeout must not be negative")
	}
	return time.Duration(f * float64(time.Second)), nil
}

func (e *env) click(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	loc, rest, err := unpackLocator(b, args)
	if err != nil {
		return nil, err
	}
	if err := starlark.UnpackArgs(b.Name(), rest, kwargs); err != nil {
		return nil, err
	}
	e.logger.Debug().Str("locator", loc.String()).Msg("click")
	return starlark.None, e.req.Interactor.Click(e.ctx, loc)
}

func (e *env) clickIfVisible(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	loc, rest, err := unpackLocator(b, args)
	if err != nil {
		return nil, err
	}
	var timeout starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), rest, kwargs, "timeout?", &timeout); err != nil {
		return nil, err
	}
	d, err := seconds(timeout, e.req.Interactor.Timeouts().Probe)
	if err != nil {
		return nil, err
	}
	clicked, err := e.req.Interactor.ClickIfVisible(e.ctx, loc, d)
	return starlark.Bool(clicked), err
}

func (e *env) setValue(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	loc, rest, err := unpackLocator(b, args)
	if err != nil {
		return nil, err
	}
	var value string
	if err := starlark.UnpackArgs(b.Name(), rest, kwargs, "value", &value); err != nil {
		return nil, err
	}
	return starlark.None, e.req.Interactor.SetValue(e.ctx, loc, value, engine.SetValueOptions{})
}

// typeSecret enters one credential field with a redacted, verified SetValue.
func (e *env) typeSecret(field string, use func(*auth.Credential, func(string) error) error) builtinFn {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		loc, rest, err := unpackLocator(b, args)
		if err != nil {
			return nil, err
		}
		if err := starlark.UnpackArgs(b.Name(), rest, kwargs); err != nil {
			return nil, err
		}
		if e.req.Credential == nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("%s: no credential available", b.Name()), nil).
				WithCode(engine.ErrCodeMissingSecret)
		}

		e.logger.Debug().Str("locator", loc.String()).Str("field", field).Msg("entering credential")
		err = use(e.req.Credential, func(secret string) error {
			return e.req.Interactor.SetValue(e.ctx, loc, secret, engine.SetValueOptions{Sensitive: true})
		})
		return starlark.None, err
	}
}

func (e *env) typeOneTimeCode(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	loc, rest, err := unpackLocator(b, args)
	if err != nil {
		return nil, err
	}
	if err := starlark.UnpackArgs(b.Name(), rest, kwargs); err != nil {
		return nil, err
	}
	if e.req.Credential == nil {
		return nil, engine.NewConfigurationError("type_otp: no credential available", nil).
			WithCode(engine.ErrCodeMissingSecret)
	}

	var code otp.Generated
	err = e.req.Credential.UseMFASecret(func(secret string) error {
		var genErr error
		code, genErr = e.codes.Generate(secret)
		return genErr
	})
	if err != nil {
		return nil, err
	}
	err = e.req.Interactor.SetValue(e.ctx, loc, code.Code, engine.SetValueOptions{Sensitive: true})
	return starlark.None, err
}

func (e *env) submit(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	loc, rest, err := unpackLocator(b, args)
	if err != nil {
		return nil, err
	}
	if err := starlark.UnpackArgs(b.Name(), rest, kwargs); err != nil {
		return nil, err
	}
	return starlark.None, e.req.Interactor.Submit(e.ctx, loc)
}

// wait builds soft waits: they return False on timeout instead of failing.
func (e *env) wait(cond engine.Condition) builtinFn {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		loc, rest, err := unpackLocator(b, args)
		if err != nil {
			return nil, err
		}
		var timeout starlark.Value = starlark.None
		if err := starlark.UnpackArgs(b.Name(), rest, kwargs, "timeout?", &timeout); err != nil {
			return nil, err
		}
		d, err := seconds(timeout, e.req.Interactor.Timeouts().Wait)
		if err != nil {
			return nil, err
		}
		el, err := e.req.Interactor.Poller().Probe(e.ctx, loc, cond, d)
		if err != nil {
			return nil, err
		}
		return starlark.Bool(el != nil), nil
	}
}

func (e *env) waitIdle(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	idle, err := e.req.Interactor.WaitForIdle(e.ctx)
	return starlark.Bool(idle), err
}

func (e *env) navigate(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var uri string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &uri); err != nil {
		return nil, err
	}
	return starlark.None, e.req.Interactor.Navigate(e.ctx, uri)
}

func (e *env) currentURL(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	u, err := e.req.Interactor.Poller().Driver().CurrentURL(e.ctx)
	if err != nil {
		return nil, err
	}
	return starlark.String(u), nil
}

func (e *env) switchToFrame(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	loc, rest, err := unpackLocator(b, args)
	if err != nil {
		return nil, err
	}
	if err := starlark.UnpackArgs(b.Name(), rest, kwargs); err != nil {
		return nil, err
	}
	return starlark.None, e.req.Interactor.SwitchToFrame(e.ctx, loc)
}

func (e *env) switchToTop(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return starlark.None, e.req.Interactor.SwitchToTop(e.ctx)
}

func (e *env) sleep(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var secs starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "seconds", &secs); err != nil {
		return nil, err
	}
	d, err := seconds(secs, 0)
	if err != nil {
		return nil, err
	}
	return starlark.None, e.req.Interactor.ThinkTime(e.ctx, d)
}

func fail(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "message", &msg); err != nil {
		return nil, err
	}
	return nil, engine.NewAuthenticationError(msg, nil)
}
