package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRAINSYNC_"

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		LogLevel       string   `yaml:"log_level"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Durable struct {
		// Driver is postgres or redis.
		Driver     string `yaml:"driver"`
		URL        string `yaml:"url"`
		Credential string `yaml:"credential"`
		Timeout    string `yaml:"timeout"`
		RosterTTL  string `yaml:"roster_ttl"`
	} `yaml:"durable"`
	Auth struct {
		HostPassword      string `yaml:"host_password"`
		HostPasswordHash  string `yaml:"host_password_hash"`
		AdminPassword     string `yaml:"admin_password"`
		AdminPasswordHash string `yaml:"admin_password_hash"`
		TokenSecret       string `yaml:"token_secret"`
		TokenTTL          string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Content struct {
		File string `yaml:"file"`
		TTL  string `yaml:"ttl"`
	} `yaml:"content"`
	Sync struct {
		ServerURL         string `yaml:"server_url"`
		DisableServerSync bool   `yaml:"disable_server_sync"`
		LocalPath         string `yaml:"local_path"`
		PollInterval      string `yaml:"poll_interval"`
		HeartbeatInterval string `yaml:"heartbeat_interval"`
	} `yaml:"sync"`
}

// Load reads .env (if present), then the YAML config at path (if present),
// then applies TRAINSYNC_* environment overrides.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// DurableEnabled reports whether both the backend URL and its credential
// are set. Anything less selects the in-process store only.
func (c Config) DurableEnabled() bool {
	return strings.TrimSpace(c.Durable.URL) != "" && strings.TrimSpace(c.Durable.Credential) != ""
}

// DurableDriver is the configured backend driver, postgres by default.
func (c Config) DurableDriver() string {
	driver := strings.ToLower(strings.TrimSpace(c.Durable.Driver))
	if driver == "" {
		return "postgres"
	}
	return driver
}

func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"PORT":                &cfg.Server.Port,
		"LOG_LEVEL":           &cfg.Server.LogLevel,
		"DURABLE_DRIVER":      &cfg.Durable.Driver,
		"DURABLE_URL":         &cfg.Durable.URL,
		"DURABLE_CREDENTIAL":  &cfg.Durable.Credential,
		"DURABLE_TIMEOUT":     &cfg.Durable.Timeout,
		"ROSTER_TTL":          &cfg.Durable.RosterTTL,
		"HOST_PASSWORD":       &cfg.Auth.HostPassword,
		"HOST_PASSWORD_HASH":  &cfg.Auth.HostPasswordHash,
		"ADMIN_PASSWORD":      &cfg.Auth.AdminPassword,
		"ADMIN_PASSWORD_HASH": &cfg.Auth.AdminPasswordHash,
		"TOKEN_SECRET":        &cfg.Auth.TokenSecret,
		"TOKEN_TTL":           &cfg.Auth.TokenTTL,
		"CONTENT_FILE":        &cfg.Content.File,
		"CONTENT_TTL":         &cfg.Content.TTL,
		"SERVER_URL":          &cfg.Sync.ServerURL,
		"LOCAL_PATH":          &cfg.Sync.LocalPath,
		"POLL_INTERVAL":       &cfg.Sync.PollInterval,
		"HEARTBEAT_INTERVAL":  &cfg.Sync.HeartbeatInterval,
	}
	for key, target := range overrides {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*target = v
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "DISABLE_SERVER_SYNC"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Sync.DisableServerSync = b
		}
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
