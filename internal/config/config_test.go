package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SURVEY_SECRETS_FILE", "COURSEPULSE_ADDR", "COURSEPULSE_BACKEND", "GOOGLE_SHEETS_SPREADSHEET_ID",
		"SPREADSHEET_ID", "COURSEPULSE_SQLITE_PATH", "COURSEPULSE_MIGRATIONS_DIR", "ADMIN_PASSWORD",
		"SESSION_SECRET", "SESSION_TTL", "RESPONDENT_HASH_SALT", "AI_API_KEY", "OPENAI_API_KEY",
		"AI_BASE_URL", "OPENAI_BASE_URL", "AI_MODEL", "LOG_LEVEL", "RECONCILE_SCHEDULE", "CORS_ORIGINS",
		"STORE_TIMEOUT", "SHEETS_RPS", "SUBMIT_RATE_PER_MINUTE", "GOOGLE_CREDENTIALS", "GOOGLE_SERVICE_ACCOUNT_FILE",
		"SECURE_COOKIES", "COURSEPULSE_STATIC_DIR", "COURSEPULSE_DEV_FRONTEND_URL",
		"TRUSTED_PROXIES",
	} {
		t.Setenv(k, "")
	}
}

func noFiles(t *testing.T) Options {
	dir := t.TempDir()
	return Options{EnvFile: filepath.Join(dir, "missing.env"), SecretsFile: filepath.Join(dir, "missing.yaml")}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	c, err := Load(noFiles(t))
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, BackendSQLite, c.Backend)
	assert.Equal(t, DefaultAdminPassword, c.AdminPassword)
	assert.Len(t, c.SessionSecret, 64)
	assert.Equal(t, 15*time.Second, c.StoreTimeout)
	assert.Equal(t, "@every 15m", c.ReconcileSchedule)
	assert.Equal(t, []string{"*"}, c.CORSOrigins)
	assert.False(t, c.AIEnabled())
	assert.False(t, c.SecureCookies)
	assert.Empty(t, c.TrustedProxies)
	assert.Len(t, c.Warnings, 4)
}

func TestLoadTrustedProxies(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1,2001:db8::/32")
	c, err := Load(noFiles(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1", "2001:db8::/32"}, c.TrustedProxies)
}

func TestLoadSecretsFileAndEnvPrecedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	secrets := filepath.Join(dir, "secrets.yaml")
	require.NoError(t, os.WriteFile(secrets, []byte(`
admin_password: from-file
spreadsheet_id: sheet-123
hash_salt: pepper
ai:
  api_key: sk-file
  model: gpt-test
gcp_service_account:
  type: service_account
  client_email: bot@example.iam.gserviceaccount.com
`), 0o600))
	t.Setenv("ADMIN_PASSWORD", "from-env")
	t.Setenv("SESSION_SECRET", "0123456789abcdef")

	c, err := Load(Options{EnvFile: filepath.Join(dir, "none.env"), SecretsFile: secrets})
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.AdminPassword)
	assert.Equal(t, "sheet-123", c.SpreadsheetID)
	assert.Equal(t, BackendGoogle, c.Backend)
	assert.Equal(t, "pepper", c.HashSalt)
	assert.True(t, c.AIEnabled())
	assert.Equal(t, "gpt-test", c.AIModel)
	assert.Contains(t, string(c.CredentialsJSON), `"client_email":"bot@example.iam.gserviceaccount.com"`)
	assert.Empty(t, c.Warnings)
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("COURSEPULSE_BACKEND=memory\nSTORE_TIMEOUT=3s\nRECONCILE_SCHEDULE=off\n"), 0o600))
	// godotenv never overrides variables already set, even to empty
	os.Unsetenv("COURSEPULSE_BACKEND")
	os.Unsetenv("STORE_TIMEOUT")
	os.Unsetenv("RECONCILE_SCHEDULE")
	t.Cleanup(func() {
		os.Unsetenv("COURSEPULSE_BACKEND")
		os.Unsetenv("STORE_TIMEOUT")
		os.Unsetenv("RECONCILE_SCHEDULE")
	})

	c, err := Load(Options{EnvFile: envFile, SecretsFile: filepath.Join(dir, "none.yaml")})
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, c.Backend)
	assert.Equal(t, 3*time.Second, c.StoreTimeout)
	assert.Empty(t, c.ReconcileSchedule)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown backend":      {"COURSEPULSE_BACKEND": "excel"},
		"google without id":    {"COURSEPULSE_BACKEND": "google"},
		"short secret":         {"SESSION_SECRET": "short"},
		"bad duration":         {"STORE_TIMEOUT": "soon"},
		"bad level":            {"LOG_LEVEL": "loud"},
		"bad inline creds":     {"GOOGLE_CREDENTIALS": "{not json"},
		"non positive timeout": {"STORE_TIMEOUT": "0s"},
		"bad cookie flag":      {"SECURE_COOKIES": "sometimes"},
		"bad dev frontend":     {"COURSEPULSE_DEV_FRONTEND_URL": "not a url"},
		"bad trusted proxy":    {"TRUSTED_PROXIES": "10.0.0.0/8, proxy.internal"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load(noFiles(t))
			assert.Error(t, err)
		})
	}
}

func TestLoadMalformedSecrets(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("admin_password: [unclosed"), 0o600))
	_, err := Load(Options{EnvFile: path + ".env", SecretsFile: path})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "secrets"))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("warn", &buf)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
