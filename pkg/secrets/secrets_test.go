package secrets

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageflow/pageflow/pkg/auth"
	"github.com/pageflow/pageflow/pkg/engine"
)

const secretsYAML = `
username: alice@contoso.com
password: correct horse
mfa_secret: JBSWY3DPEHPK3PXP
profiles:
  crm-prod:
    username: svc-crm@contoso.com
    password: battery staple
`

func writeSecrets(t *testing.T, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	require.NoError(t, os.Chmod(path, mode))
	return path
}

func noEnv(string) string { return "" }

func reveal(t *testing.T, use func(func(string) error) error) string {
	t.Helper()
	var out string
	require.NoError(t, use(func(s string) error {
		out = strings.Clone(s)
		return nil
	}))
	return out
}

func TestProvider_DefaultsFromFile(t *testing.T) {
	path := writeSecrets(t, secretsYAML, 0o600)

	cred, err := Provider{Path: path, Getenv: noEnv}.Credential()
	require.NoError(t, err)
	defer cred.Destroy()

	assert.Equal(t, "alice@contoso.com", reveal(t, cred.UseUsername))
	assert.Equal(t, "correct horse", reveal(t, cred.UsePassword))
	assert.True(t, cred.HasMFASecret())
}

func TestProvider_ProfileEntryAndEnvironmentOverride(t *testing.T) {
	path := writeSecrets(t, secretsYAML, 0o600)
	env := map[string]string{EnvPassword: "from-env"}

	cred, err := Provider{
		Path:    path,
		Profile: "crm-prod",
		Getenv:  func(k string) string { return env[k] },
	}.Credential()
	require.NoError(t, err)
	defer cred.Destroy()

	assert.Equal(t, "svc-crm@contoso.com", reveal(t, cred.UseUsername))
	assert.Equal(t, "from-env", reveal(t, cred.UsePassword))
	assert.Equal(t, "JBSWY3DPEHPK3PXP", reveal(t, cred.UseMFASecret))
}

func TestProvider_EnvironmentOnly(t *testing.T) {
	env := map[string]string{EnvUsername: "bob@contoso.com"}

	cred, err := Provider{Getenv: func(k string) string { return env[k] }}.Credential()
	require.NoError(t, err)
	defer cred.Destroy()

	assert.True(t, cred.HasUsername())
	assert.False(t, cred.HasPassword())
	assert.False(t, cred.HasMFASecret())
}

func TestProvider_Errors(t *testing.T) {
	t.Run("invalid mfa secret", func(t *testing.T) {
		env := map[string]string{EnvUsername: "a", EnvMFASecret: "not-base32!"}
		_, err := Provider{Getenv: func(k string) string { return env[k] }}.Credential()
		require.Error(t, err)
		assert.True(t, engine.IsConfiguration(err))
		assert.NotContains(t, err.Error(), "not-base32!")
	})

	t.Run("password without username", func(t *testing.T) {
		env := map[string]string{EnvPassword: "p"}
		_, err := Provider{Getenv: func(k string) string { return env[k] }}.Credential()
		require.Error(t, err)
		assert.True(t, engine.IsConfiguration(err))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Provider{Path: filepath.Join(t.TempDir(), "none.yaml"), Getenv: noEnv}.Credential()
		require.Error(t, err)
		assert.True(t, engine.IsConfiguration(err))
	})

	t.Run("malformed yaml does not echo content", func(t *testing.T) {
		path := writeSecrets(t, "password: [unterminated s3cr3t\n", 0o600)
		_, err := Provider{Path: path, Getenv: noEnv}.Credential()
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "s3cr3t")
	})

	t.Run("world readable file", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("permission bits are not enforced on windows")
		}
		path := writeSecrets(t, secretsYAML, 0o644)
		_, err := Provider{Path: path, Getenv: noEnv}.Credential()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chmod 600")
	})
}

func TestProvider_CredentialIsRedacted(t *testing.T) {
	path := writeSecrets(t, secretsYAML, 0o600)
	cred, err := Provider{Path: path, Getenv: noEnv}.Credential()
	require.NoError(t, err)
	defer cred.Destroy()

	var _ *auth.Credential = cred
	assert.NotContains(t, cred.String(), "correct horse")
}

func TestDecodeFile_WipesRawContent(t *testing.T) {
	data := []byte(secretsYAML)
	f, err := decodeFile("secrets.yaml", data)
	require.NoError(t, err)
	assert.Equal(t, "correct horse", f.Defaults.Password)
	assert.Equal(t, "battery staple", f.Profiles["crm-prod"].Password)
	assert.Equal(t, make([]byte, len(secretsYAML)), data)

	bad := []byte("password: [unterminated")
	_, err = decodeFile("secrets.yaml", bad)
	require.Error(t, err)
	assert.Equal(t, make([]byte, len(bad)), bad)
}
