package chromedp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageflow/pageflow/pkg/engine"
)

func TestBind(t *testing.T) {
	got := bind("function(a, b) { return a + b; }", "x\"y", 3)
	assert.Equal(t, `function() { return (function(a, b) { return a + b; }).call(this, "x\"y", 3); }`, got)

	assert.Equal(t, "function() { return (f).call(this); }", bind("f"))
}

func TestCentre(t *testing.T) {
	x, y := centre(dom.Quad{10, 20, 30, 20, 30, 60, 10, 60})
	assert.InDelta(t, 20.0, x, 0.001)
	assert.InDelta(t, 40.0, y, 0.001)
}

func TestDescribeFrame(t *testing.T) {
	assert.Equal(t, "#2", describeFrame(engine.FrameRef{Index: 2}))
	assert.Contains(t, describeFrame(engine.FrameRef{Locator: engine.ID("content", "contentIFrame0")}), "contentIFrame0")
}

const loginPage = `<!doctype html>
<html><body>
<div id="busy" style="display:none">working</div>
<form id="login" onsubmit="document.getElementById('done').style.display='block'; return false;">
  <input id="user" name="loginfmt" type="email">
  <input id="pass" type="password" disabled>
  <button id="next" type="button" onclick="document.getElementById('pass').disabled=false">Next</button>
  <input id="go" type="submit" value="Sign in">
</form>
<div id="done" style="display:none">signed in</div>
<iframe id="frame" srcdoc="<input id='inner' value='from-frame'>"></iframe>
<script>window.UCWorkBlockTracker = { idle: true, isAppIdle: function() { return this.idle; } };</script>
</body></html>`

// newBrowserDriver launches a headless browser, or skips when none is
// available. Set PAGEFLOW_CHROME to point at a specific binary.
func newBrowserDriver(t *testing.T) (*Driver, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests skipped in short mode")
	}

	execPath := os.Getenv("PAGEFLOW_CHROME")
	if execPath == "" {
		for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
			if p, err := exec.LookPath(name); err == nil {
				execPath = p
				break
			}
		}
	}
	if execPath == "" {
		t.Skip("no Chrome or Chromium binary found")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, loginPage)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	d, err := New(ctx, Options{
		Headless: true,
		ExecPath: execPath,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	require.NoError(t, d.Navigate(ctx, srv.URL))
	return d, srv.URL
}

func TestDriverAgainstBrowser(t *testing.T) {
	d, url := newBrowserDriver(t)
	ctx := context.Background()

	current, err := d.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Contains(t, current, url)

	t.Run("find by strategy", func(t *testing.T) {
		for _, loc := range []engine.Locator{
			engine.ID("user", "user"),
			engine.CSS("user", "input[name=loginfmt]"),
			engine.XPath("user", "//input[@name='loginfmt']"),
			engine.CSS("user", "#user").Within(engine.ID("form", "login")),
		} {
			el, err := d.Find(ctx, loc)
			require.NoError(t, err, loc.String())
			require.NotNil(t, el, loc.String())
		}
	})

	t.Run("missing element", func(t *testing.T) {
		el, err := d.Find(ctx, engine.ID("nope", "does-not-exist"))
		require.NoError(t, err)
		assert.Nil(t, el)

		el, err = d.Find(ctx, engine.CSS("user", "#user").Within(engine.ID("missing scope", "nope")))
		require.NoError(t, err)
		assert.Nil(t, el)
	})

	t.Run("invalid selector is a configuration error", func(t *testing.T) {
		_, err := d.Find(ctx, engine.XPath("broken", "//input[@"))
		require.Error(t, err)
		assert.True(t, engine.IsConfiguration(err))
	})

	t.Run("visibility and enabled state", func(t *testing.T) {
		busy, err := d.Find(ctx, engine.ID("busy", "busy"))
		require.NoError(t, err)
		visible, err := busy.Visible(ctx)
		require.NoError(t, err)
		assert.False(t, visible)

		pass, err := d.Find(ctx, engine.ID("pass", "pass"))
		require.NoError(t, err)
		enabled, err := pass.Enabled(ctx)
		require.NoError(t, err)
		assert.False(t, enabled)

		next, err := d.Find(ctx, engine.ID("next", "next"))
		require.NoError(t, err)
		require.NoError(t, next.Click(ctx))

		enabled, err = pass.Enabled(ctx)
		require.NoError(t, err)
		assert.True(t, enabled)
	})

	t.Run("type clear and value", func(t *testing.T) {
		user, err := d.Find(ctx, engine.ID("user", "user"))
		require.NoError(t, err)

		require.NoError(t, user.Type(ctx, "alice@contoso.com"))
		v, err := user.Value(ctx)
		require.NoError(t, err)
		assert.Equal(t, "alice@contoso.com", v)

		require.NoError(t, user.Clear(ctx))
		v, err = user.Value(ctx)
		require.NoError(t, err)
		assert.Empty(t, v)
	})

	t.Run("submit", func(t *testing.T) {
		user, err := d.Find(ctx, engine.ID("user", "user"))
		require.NoError(t, err)
		require.NoError(t, user.Submit(ctx))

		done, err := d.Find(ctx, engine.ID("done", "done"))
		require.NoError(t, err)
		visible, err := done.Visible(ctx)
		require.NoError(t, err)
		assert.True(t, visible)
	})

	t.Run("frames", func(t *testing.T) {
		require.NoError(t, d.SwitchFrame(ctx, engine.FrameRef{Locator: engine.ID("frame", "frame")}))
		inner, err := d.Find(ctx, engine.ID("inner", "inner"))
		require.NoError(t, err)
		require.NotNil(t, inner)
		v, err := inner.Value(ctx)
		require.NoError(t, err)
		assert.Equal(t, "from-frame", v)

		require.NoError(t, d.SwitchFrame(ctx, engine.TopFrame))
		inner, err = d.Find(ctx, engine.ID("inner", "inner"))
		require.NoError(t, err)
		assert.Nil(t, inner)

		require.NoError(t, d.SwitchFrame(ctx, engine.FrameRef{Index: 0}))
		require.NoError(t, d.SwitchFrame(ctx, engine.TopFrame))

		assert.Error(t, d.SwitchFrame(ctx, engine.FrameRef{Index: 5}))
	})

	t.Run("script busy signal", func(t *testing.T) {
		signal := ScriptBusySignal{Driver: d}
		busy, err := signal.Busy(ctx)
		require.NoError(t, err)
		assert.False(t, busy)

		custom := ScriptBusySignal{Driver: d, Expression: `(window.UCWorkBlockTracker.idle = false, true)`}
		busy, err = custom.Busy(ctx)
		require.NoError(t, err)
		assert.True(t, busy)

		busy, err = signal.Busy(ctx)
		require.NoError(t, err)
		assert.True(t, busy)
	})

	t.Run("cancelled context leaves the tab usable", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := d.Find(cctx, engine.ID("user", "user"))
		assert.ErrorIs(t, err, context.Canceled)

		el, err := d.Find(ctx, engine.ID("user", "user"))
		require.NoError(t, err)
		assert.NotNil(t, el)
	})
}
