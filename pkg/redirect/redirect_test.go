package redirect_test

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageflow/pageflow/pkg/auth"
	"github.com/pageflow/pageflow/pkg/engine"
	"github.com/pageflow/pageflow/pkg/engine/enginetest"
	"github.com/pageflow/pageflow/pkg/otp"
	"github.com/pageflow/pageflow/pkg/redirect"
)

const testSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func newRequest(t *testing.T, d *enginetest.Driver, cred *auth.Credential) auth.RedirectRequest {
	t.Helper()
	target, err := url.Parse("https://contoso.crm.dynamics.com/main.aspx?appid=1")
	require.NoError(t, err)

	poller := engine.NewPoller(d, engine.WithInterval(5*time.Millisecond))
	it := engine.NewInteractor(poller, nil, engine.Timeouts{
		Wait:           100 * time.Millisecond,
		Probe:          20 * time.Millisecond,
		Verify:         20 * time.Millisecond,
		VerifyAttempts: 3,
		Barrier:        100 * time.Millisecond,
	})
	return auth.RedirectRequest{Target: target, Credential: cred, Interactor: it}
}

func TestNew_RejectsInvalidScripts(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{name: "syntax error", source: "click(id(\"x\")"},
		{name: "undefined name", source: "open_browser()"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := redirect.New("bad.star", tt.source)
			require.Error(t, err)
			assert.True(t, engine.IsConfiguration(err))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := redirect.Load(filepath.Join(t.TempDir(), "missing.star"))
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
}

func TestHandleRedirect_EntersCredentialsAndSubmits(t *testing.T) {
	d := enginetest.NewDriver()
	user := d.Add("userNameInput", nil)
	pass := d.Add("passwordInput", nil)
	var submitted string
	pass.OnSubmit = func(v string) { submitted = v }
	d.Add("#mainContent", nil)

	script := `
def login():
    type_username(id("userNameInput", name="adfs username"))
    type_password(id("passwordInput"))
    submit(id("passwordInput"))
    if not wait_visible(css("#mainContent"), timeout=1):
        fail("no main page")
`
	dl, err := redirect.New("adfs.star", script)
	require.NoError(t, err)

	cred := auth.NewCredentialFromStrings("alice@contoso.com", "hunter2", "")
	require.NoError(t, dl.HandleRedirect(context.Background(), newRequest(t, d, cred)))

	v, _ := user.Value(context.Background())
	assert.Equal(t, "alice@contoso.com", v)
	assert.Equal(t, "hunter2", submitted)
	assert.Equal(t, 1, pass.Submits())
}

func TestHandleRedirect_TypesOneTimeCode(t *testing.T) {
	d := enginetest.NewDriver()
	input := d.Add("//input[@name='otc']", nil)

	at := time.Unix(1234567890, 0)
	dl, err := redirect.New("otc.star", `type_otp("//input[@name='otc']")`,
		redirect.WithCodeGenerator(&otp.Generator{Now: func() time.Time { return at }}))
	require.NoError(t, err)

	cred := auth.NewCredentialFromStrings("alice", "pw", testSecret)
	require.NoError(t, dl.HandleRedirect(context.Background(), newRequest(t, d, cred)))

	want, err := otp.Code(testSecret, at)
	require.NoError(t, err)
	v, _ := input.Value(context.Background())
	assert.Equal(t, want, v)
}

func TestHandleRedirect_SoftWaitsAndOptionalClicks(t *testing.T) {
	d := enginetest.NewDriver()
	stay := d.Add("idBtn_Back", nil)

	script := `
if wait_exists(id("missing"), timeout=0.02):
    fail("missing element reported present")
if not click_if_visible(id("idBtn_Back"), timeout=0.05):
    fail("stay signed in prompt not clicked")
if click_if_visible(id("absent"), timeout=0.02):
    fail("absent element clicked")
`
	dl, err := redirect.New("probe.star", script)
	require.NoError(t, err)
	require.NoError(t, dl.HandleRedirect(context.Background(), newRequest(t, d, nil)))
	assert.Equal(t, 1, stay.Clicks())
}

func TestHandleRedirect_TargetAndNavigation(t *testing.T) {
	d := enginetest.NewDriver()
	script := `
if target.host != "contoso.crm.dynamics.com":
    fail("unexpected host " + target.host)
navigate("https://sts.contoso.com/adfs/ls?wa=wsignin1.0")
if current_url() != "https://sts.contoso.com/adfs/ls?wa=wsignin1.0":
    fail("navigation not applied")
switch_to_frame(id("contentIFrame0"))
switch_to_top()
`
	d.Add("contentIFrame0", nil)
	dl, err := redirect.New("nav.star", script)
	require.NoError(t, err)
	require.NoError(t, dl.HandleRedirect(context.Background(), newRequest(t, d, nil)))

	assert.Equal(t, []string{"https://sts.contoso.com/adfs/ls?wa=wsignin1.0"}, d.Navigations)
	require.Len(t, d.Frames, 2)
	assert.True(t, d.Frames[1].Top)
}

func TestHandleRedirect_FailIsAuthenticationError(t *testing.T) {
	d := enginetest.NewDriver()
	dl, err := redirect.New("fail.star", `fail("account locked")`)
	require.NoError(t, err)

	err = dl.HandleRedirect(context.Background(), newRequest(t, d, nil))
	require.Error(t, err)
	assert.True(t, engine.IsAuthenticationFailure(err))
	assert.Contains(t, err.Error(), "account locked")
}

func TestHandleRedirect_ScriptErrorsDoNotLeakSecrets(t *testing.T) {
	d := enginetest.NewDriver()
	d.Add("passwordInput", &enginetest.Element{
		TypeFilter: func(int, string) string { return "x" },
	})
	dl, err := redirect.New("leak.star", `type_password(id("passwordInput"))`)
	require.NoError(t, err)

	cred := auth.NewCredentialFromStrings("alice", "correct-horse", "")
	err = dl.HandleRedirect(context.Background(), newRequest(t, d, cred))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "correct-horse")
}

func TestHandleRedirect_MissingCredentialIsConfigurationError(t *testing.T) {
	d := enginetest.NewDriver()
	d.Add("userNameInput", nil)
	dl, err := redirect.New("nocred.star", `type_username(id("userNameInput"))`)
	require.NoError(t, err)

	err = dl.HandleRedirect(context.Background(), newRequest(t, d, nil))
	require.Error(t, err)
	assert.True(t, engine.IsConfiguration(err))
}

func TestHandleRedirect_RuntimeErrorIsAuthenticationError(t *testing.T) {
	d := enginetest.NewDriver()
	dl, err := redirect.New("runtime.star", `x = 1 + "a"`)
	require.NoError(t, err)

	err = dl.HandleRedirect(context.Background(), newRequest(t, d, nil))
	require.Error(t, err)
	assert.True(t, engine.IsAuthenticationFailure(err))
}

func TestHandleRedirect_TimeoutCancelsScript(t *testing.T) {
	d := enginetest.NewDriver()
	dl, err := redirect.New("slow.star", `sleep(10)`, redirect.WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	err = dl.HandleRedirect(context.Background(), newRequest(t, d, nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHandleRedirect_RequiresInteractor(t *testing.T) {
	dl, err := redirect.New("empty.star", `pass`)
	require.NoError(t, err)
	err = dl.HandleRedirect(context.Background(), auth.RedirectRequest{})
	assert.True(t, engine.IsConfiguration(err))
}

func TestLoad_ReadsScriptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adfs.star")
	require.NoError(t, os.WriteFile(path, []byte("def login():\n    submit(id(\"f\"))\n"), 0o600))

	dl, err := redirect.Load(path)
	require.NoError(t, err)

	d := enginetest.NewDriver()
	form := d.Add("f", nil)
	require.NoError(t, dl.HandleRedirect(context.Background(), newRequest(t, d, nil)))
	assert.Equal(t, 1, form.Submits())
}
