// Package config loads the broker's ambient settings (store path, repo
// root, logging) from the environment per spec §6.2, and the reviewer
// pool's configuration from an optional JSON document, grounded on
// original_source/config_schema.py. Configuration-schema loading is one of
// the spec's explicitly opaque external collaborators; this package keeps
// the loader itself deliberately small and pushes validation onto
// go-playground/validator, the teacher's own validation dependency
// (pulled in transitively by gin in the teacher's go.mod).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// AllowedModels mirrors config_schema.py's ALLOWED_MODELS allow-list.
var AllowedModels = map[string]bool{
	"gpt-5-codex":      true,
	"gpt-5":            true,
	"o3":               true,
	"o4-mini":          true,
	"claude-opus-4":    true,
	"claude-sonnet-4":  true,
}

// PoolConfig configures the reviewer worker pool. Field names and bounds
// are grounded on config_schema.py's SpawnConfig and spec §4.5.1's option
// table.
type PoolConfig struct {
	Model                          string  `json:"model" validate:"required"`
	ReasoningEffort                string  `json:"reasoning_effort" validate:"omitempty,oneof=low medium high"`
	WorkspacePath                  string  `json:"workspace_path" validate:"required"`
	WSLDistro                      string  `json:"wsl_distro"`
	MaxPoolSize                    int     `json:"max_pool_size" validate:"gte=1,lte=10"`
	IdleTimeoutSeconds             int     `json:"idle_timeout_seconds" validate:"gte=60"`
	MaxTTLSeconds                  int     `json:"max_ttl_seconds" validate:"gte=300"`
	ClaimTimeoutSeconds            int     `json:"claim_timeout_seconds" validate:"gte=60"`
	SpawnCooldownSeconds           float64 `json:"spawn_cooldown_seconds" validate:"gte=1"`
	PromptTemplatePath             string  `json:"prompt_template_path" validate:"required"`
	ScalingRatio                   float64 `json:"scaling_ratio" validate:"gte=1"`
	BackgroundCheckIntervalSeconds int     `json:"background_check_interval_seconds" validate:"gte=5"`
}

// Validate enforces bounds via struct tags, then the model allow-list which
// validator's oneof can't express dynamically.
func (c *PoolConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid pool config: %w", err)
	}
	if !AllowedModels[c.Model] {
		return fmt.Errorf("invalid pool config: model %q is not in the allow-list", c.Model)
	}
	if info, err := os.Stat(c.WorkspacePath); err != nil || !info.IsDir() {
		return fmt.Errorf("invalid pool config: workspace_path %q does not exist", c.WorkspacePath)
	}
	return nil
}

// LoadPoolConfig reads a JSON document shaped like {"reviewer_pool": {...}}.
// A missing "reviewer_pool" key (or a missing file) disables the pool and
// returns (nil, nil) rather than an error, matching
// original_source/config_schema.py's load_spawn_config contract.
func LoadPoolConfig(path string) (*PoolConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pool config %s: %w", path, err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse pool config %s: %w", path, err)
	}
	section, ok := doc["reviewer_pool"]
	if !ok {
		return nil, nil
	}

	cfg := &PoolConfig{}
	if err := json.Unmarshal(section, cfg); err != nil {
		return nil, fmt.Errorf("parse reviewer_pool section: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BrokerConfig is the ambient, env-derived settings a lifespan scope needs
// to wire everything else: store path, repo root, config path, logging.
type BrokerConfig struct {
	DBPath              string
	ConfigPath          string
	RepoRoot            string
	Host                string
	LogLevel            string
	LogFormat           string
	PromptTemplatePath  string // BROKER_PROMPT_TEMPLATE_PATH hard override
	ReviewerLogMaxBytes int
	ReviewerLogBackups  int
	LogMaxBytes         int
	LogBackups          int
}

// LoadBrokerConfig resolves every §6.2 environment variable, falling back
// to the teacher's env-or-default chain style (infrastructure/config's
// EnvOrSecret, minus the TEE-secret layer which has no analog here).
func LoadBrokerConfig() (*BrokerConfig, error) {
	// Best-effort: a local .env is a dev convenience, never required, and
	// real environment variables always win (godotenv.Load never overwrites
	// a variable that's already set).
	_ = godotenv.Load()

	repoRoot := envOr("BROKER_REPO_ROOT", "")
	if repoRoot == "" {
		discovered, err := discoverRepoRoot()
		if err == nil {
			repoRoot = discovered
		}
	}

	configPath := envOr("BROKER_CONFIG_PATH", "")
	if configPath == "" && repoRoot != "" {
		configPath = filepath.Join(repoRoot, ".planning", "config.json")
	}

	dbPath := envOr("BROKER_DB_PATH", "")
	if dbPath == "" {
		dir, err := defaultUserConfigDir()
		if err != nil {
			return nil, err
		}
		dbPath = filepath.Join(dir, "codex_review_broker.sqlite3")
	}

	return &BrokerConfig{
		DBPath:              dbPath,
		ConfigPath:          configPath,
		RepoRoot:            repoRoot,
		Host:                envOr("BROKER_HOST", "127.0.0.1"),
		LogLevel:            envOr("BROKER_LOG_LEVEL", envOr("BROKER_UVICORN_LOG_LEVEL", "info")),
		LogFormat:           envOr("BROKER_LOG_FORMAT", "text"),
		PromptTemplatePath:  envOr("BROKER_PROMPT_TEMPLATE_PATH", ""),
		ReviewerLogMaxBytes: envOrInt("BROKER_REVIEWER_LOG_MAX_BYTES", 10*1024*1024),
		ReviewerLogBackups:  envOrInt("BROKER_REVIEWER_LOG_BACKUPS", 3),
		LogMaxBytes:         envOrInt("BROKER_LOG_MAX_BYTES", 10*1024*1024),
		LogBackups:          envOrInt("BROKER_LOG_BACKUPS", 3),
	}, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}

// defaultUserConfigDir resolves a platform user config directory, grounded
// on original_source/db.py's _default_user_config_dir.
func defaultUserConfigDir() (string, error) {
	appDir := "gsd-review-broker"
	switch runtime.GOOS {
	case "windows":
		if appData := envOr("APPDATA", ""); appData != "" {
			return filepath.Join(appData, appDir), nil
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", appDir), nil
	}
	if xdg := envOr("XDG_CONFIG_HOME", ""); xdg != "" {
		return filepath.Join(xdg, appDir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appDir), nil
}

// discoverRepoRoot walks upward from the working directory looking for a
// .git directory.
func discoverRepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no .git directory found above %s", dir)
		}
		dir = parent
	}
}
