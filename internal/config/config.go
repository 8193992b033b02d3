// Package config resolves runtime settings from the environment, an optional
// .env file and a YAML secrets file. Environment variables always win.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/Coursepulse/internal/utils"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendGoogle = "google"

	// DefaultAdminPassword is accepted so a fresh install can log in, but
	// Load warns whenever it is in effect.
	DefaultAdminPassword = "skms2024"
	defaultHashSalt      = "coursepulse-default-salt"
)

type Config struct {
	Addr    string `validate:"required"`
	Backend string `validate:"oneof=memory sqlite google"`

	SpreadsheetID   string `validate:"required_if=Backend google"`
	CredentialsJSON []byte
	SheetsRPS       float64 `validate:"gt=0"`

	SQLitePath    string `validate:"required_if=Backend sqlite"`
	MigrationsDir string

	AdminPassword string        `validate:"required"`
	SessionSecret string        `validate:"min=16"`
	SessionTTL    time.Duration `validate:"gt=0"`
	HashSalt      string        `validate:"required"`

	AIAPIKey  string
	AIBaseURL string
	AIModel   string

	StoreTimeout      time.Duration `validate:"gt=0"`
	LogLevel          string        `validate:"oneof=debug info warn error"`
	ReconcileSchedule string
	CORSOrigins       []string
	SubmitPerMinute   int      `validate:"gte=0"`
	TrustedProxies    []string `validate:"dive,cidr|ip"`
	SecureCookies     bool

	// StaticDir serves a built frontend; DevFrontendURL proxies to a dev
	// server instead. StaticDir wins when both are set.
	StaticDir      string
	DevFrontendURL string `validate:"omitempty,url"`

	// Warnings lists insecure defaults that were applied.
	Warnings []string `validate:"-"`
}

// AIEnabled reports whether insight generation has a credential.
func (c *Config) AIEnabled() bool { return strings.TrimSpace(c.AIAPIKey) != "" }

// Secrets is the layout of the YAML secrets file. gcp_service_account holds
// the service account key inline, as downloaded from the console.
type Secrets struct {
	AdminPassword     string         `yaml:"admin_password"`
	SpreadsheetID     string         `yaml:"spreadsheet_id"`
	SessionSecret     string         `yaml:"session_secret"`
	HashSalt          string         `yaml:"hash_salt"`
	GCPServiceAccount map[string]any `yaml:"gcp_service_account"`
	AI                struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"ai"`
}

type Options struct {
	// EnvFile is loaded with godotenv when present; default ".env".
	EnvFile string
	// SecretsFile overrides SURVEY_SECRETS_FILE.
	SecretsFile string
}

// Load resolves the configuration. Missing .env and secrets files are not
// errors; malformed ones are.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	secretsPath := opts.SecretsFile
	if secretsPath == "" {
		secretsPath = utils.SafeEnv("SURVEY_SECRETS_FILE", "secrets.yaml")
	}
	sec, err := ReadSecrets(secretsPath)
	if err != nil {
		return nil, err
	}

	c := &Config{
		Addr:              utils.SafeEnv("COURSEPULSE_ADDR", ":8080"),
		SpreadsheetID:     pick(utils.FirstEnv("GOOGLE_SHEETS_SPREADSHEET_ID", "SPREADSHEET_ID"), sec.SpreadsheetID),
		SQLitePath:        utils.SafeEnv("COURSEPULSE_SQLITE_PATH", "data/workbook.db"),
		MigrationsDir:     utils.SafeEnv("COURSEPULSE_MIGRATIONS_DIR", ""),
		AdminPassword:     pick(utils.SafeEnv("ADMIN_PASSWORD", ""), sec.AdminPassword),
		SessionSecret:     pick(utils.SafeEnv("SESSION_SECRET", ""), sec.SessionSecret),
		HashSalt:          pick(utils.SafeEnv("RESPONDENT_HASH_SALT", ""), sec.HashSalt),
		AIAPIKey:          pick(utils.FirstEnv("AI_API_KEY", "OPENAI_API_KEY"), sec.AI.APIKey),
		AIBaseURL:         pick(utils.FirstEnv("AI_BASE_URL", "OPENAI_BASE_URL"), sec.AI.BaseURL),
		AIModel:           pick(utils.SafeEnv("AI_MODEL", ""), sec.AI.Model),
		LogLevel:          strings.ToLower(utils.SafeEnv("LOG_LEVEL", "info")),
		ReconcileSchedule: utils.SafeEnv("RECONCILE_SCHEDULE", "@every 15m"),
		CORSOrigins:       utils.SplitList(utils.SafeEnv("CORS_ORIGINS", "*")),
		TrustedProxies:    utils.SplitList(utils.SafeEnv("TRUSTED_PROXIES", "")),
		StaticDir:         utils.SafeEnv("COURSEPULSE_STATIC_DIR", ""),
		DevFrontendURL:    utils.SafeEnv("COURSEPULSE_DEV_FRONTEND_URL", ""),
	}
	if strings.EqualFold(c.ReconcileSchedule, "off") {
		c.ReconcileSchedule = ""
	}

	var errs []error
	c.StoreTimeout, err = envDuration("STORE_TIMEOUT", 15*time.Second)
	errs = append(errs, err)
	c.SessionTTL, err = envDuration("SESSION_TTL", 8*time.Hour)
	errs = append(errs, err)
	c.SheetsRPS, err = envFloat("SHEETS_RPS", 1)
	errs = append(errs, err)
	c.SubmitPerMinute, err = envInt("SUBMIT_RATE_PER_MINUTE", 30)
	errs = append(errs, err)
	c.SecureCookies, err = envBool("SECURE_COOKIES", false)
	errs = append(errs, err)
	c.CredentialsJSON, err = credentials(sec)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	c.Backend = strings.ToLower(utils.SafeEnv("COURSEPULSE_BACKEND", ""))
	if c.Backend == "" {
		c.Backend = BackendSQLite
		if c.SpreadsheetID != "" {
			c.Backend = BackendGoogle
		}
	}
	c.applyDefaults()
	if err := validateConfig(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.AdminPassword == "" {
		c.AdminPassword = DefaultAdminPassword
		c.Warnings = append(c.Warnings, "ADMIN_PASSWORD not set; using the built-in default password")
	}
	if c.SessionSecret == "" {
		c.SessionSecret = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
		c.Warnings = append(c.Warnings, "SESSION_SECRET not set; admin sessions end on restart")
	}
	if c.HashSalt == "" {
		c.HashSalt = defaultHashSalt
		c.Warnings = append(c.Warnings, "RESPONDENT_HASH_SALT not set; respondent hashes use a public salt")
	}
	if !c.AIEnabled() {
		c.Warnings = append(c.Warnings, "no AI API key; insight generation disabled")
	}
}

// ReadSecrets parses the YAML secrets file at path. A missing file yields
// empty secrets.
func ReadSecrets(path string) (*Secrets, error) {
	sec := &Secrets{}
	if path == "" {
		return sec, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return sec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, sec); err != nil {
		return nil, fmt.Errorf("parse secrets file %s: %w", path, err)
	}
	return sec, nil
}

// credentials prefers GOOGLE_CREDENTIALS (inline JSON), then
// GOOGLE_SERVICE_ACCOUNT_FILE, then the secrets file.
func credentials(sec *Secrets) ([]byte, error) {
	if inline := utils.SafeEnv("GOOGLE_CREDENTIALS", ""); inline != "" {
		if !json.Valid([]byte(inline)) {
			return nil, errors.New("GOOGLE_CREDENTIALS is not valid JSON")
		}
		return []byte(inline), nil
	}
	if path := utils.SafeEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	}
	if len(sec.GCPServiceAccount) > 0 {
		b, err := json.Marshal(sec.GCPServiceAccount)
		if err != nil {
			return nil, fmt.Errorf("encode gcp_service_account: %w", err)
		}
		return b, nil
	}
	return nil, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateConfig(c *Config) error {
	err := validate.Struct(c)
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		msgs := make([]string, 0, len(ve))
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", envName(fe.StructField()), fe.Tag()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
	return err
}

// envName maps a Config field back to the variable users set.
func envName(field string) string {
	names := map[string]string{
		"Addr":            "COURSEPULSE_ADDR",
		"Backend":         "COURSEPULSE_BACKEND",
		"SpreadsheetID":   "GOOGLE_SHEETS_SPREADSHEET_ID",
		"SheetsRPS":       "SHEETS_RPS",
		"SQLitePath":      "COURSEPULSE_SQLITE_PATH",
		"AdminPassword":   "ADMIN_PASSWORD",
		"SessionSecret":   "SESSION_SECRET",
		"SessionTTL":      "SESSION_TTL",
		"HashSalt":        "RESPONDENT_HASH_SALT",
		"StoreTimeout":    "STORE_TIMEOUT",
		"LogLevel":        "LOG_LEVEL",
		"SubmitPerMinute": "SUBMIT_RATE_PER_MINUTE",
		"DevFrontendURL":  "COURSEPULSE_DEV_FRONTEND_URL",
		"TrustedProxies":  "TRUSTED_PROXIES",
	}
	base, index, _ := strings.Cut(field, "[")
	if n, ok := names[base]; ok {
		if index != "" {
			return n + "[" + index
		}
		return n
	}
	return field
}

func pick(primary, fallback string) string {
	if strings.TrimSpace(primary) != "" {
		return primary
	}
	return strings.TrimSpace(fallback)
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := utils.SafeEnv(key, "")
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := utils.SafeEnv(key, "")
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envInt(key string, def int) (int, error) {
	raw := utils.SafeEnv(key, "")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	raw := utils.SafeEnv(key, "")
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
