// Package config resolves agtodo settings from defaults, an optional TOML
// file, the environment (including a .env file) and command-line flags, in
// that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Defaults.
const (
	DefaultAddr            = ":5000"
	DefaultBaseURL         = "https://api.openai.com/v1"
	DefaultModel           = "gpt-3.5-turbo"
	DefaultLLMTimeout      = 30 * time.Second
	DefaultTranscriptLimit = 200

	// DefaultConfigFile is looked up in the working directory when no
	// --config flag is given.
	DefaultConfigFile = "agtodo.toml"
)

// Config is the resolved configuration.
type Config struct {
	Addr       string           `toml:"addr"`
	Offline    bool             `toml:"offline"`
	LLM        LLMConfig        `toml:"llm"`
	CORS       CORSConfig       `toml:"cors"`
	Audit      AuditConfig      `toml:"audit"`
	Transcript TranscriptConfig `toml:"transcript"`
}

type LLMConfig struct {
	BaseURL string        `toml:"base_url"`
	APIKey  string        `toml:"api_key"`
	Model   string        `toml:"model"`
	Timeout time.Duration `toml:"timeout"`
}

type CORSConfig struct {
	Origins []string `toml:"origins"`
}

// AuditConfig.Path is the JSONL audit log; empty disables the file.
type AuditConfig struct {
	Path string `toml:"path"`
}

type TranscriptConfig struct {
	Limit int `toml:"limit"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Addr: DefaultAddr,
		LLM: LLMConfig{
			BaseURL: DefaultBaseURL,
			Model:   DefaultModel,
			Timeout: DefaultLLMTimeout,
		},
		CORS:       CORSConfig{Origins: []string{"*"}},
		Transcript: TranscriptConfig{Limit: DefaultTranscriptLimit},
	}
}

// Load resolves defaults, the TOML file and the environment. path names the
// TOML file; when empty, DefaultConfigFile is used if it exists. A .env file
// in the working directory is loaded first and never overrides variables
// already set in the process environment.
//
// Expectations:
//   - An explicit path that cannot be read is an error
//   - A missing DefaultConfigFile is not an error
//   - Environment variables override file values
//   - Malformed duration or integer env values are errors naming the variable
func Load(path string) (*Config, error) {
	cfg := Default()

	file := path
	if file == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			file = DefaultConfigFile
		}
	}
	if file != "" {
		if _, err := toml.DecodeFile(file, cfg); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", file, err)
		}
	}

	// Missing .env is normal.
	_ = godotenv.Load(".env")

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("AGTODO_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("AGTODO_LLM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: AGTODO_LLM_TIMEOUT: %w", err)
		}
		cfg.LLM.Timeout = d
	}
	if v := os.Getenv("AGTODO_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("AGTODO_CORS_ORIGINS"); v != "" {
		cfg.CORS.Origins = splitList(v)
	}
	if v := os.Getenv("AGTODO_TRANSCRIPT_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: AGTODO_TRANSCRIPT_LIMIT: %w", err)
		}
		cfg.Transcript.Limit = n
	}
	return nil
}

// RegisterFlags defines the configuration flags on fs. Their defaults are
// only for help text; ApplyFlags copies values the user actually set.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to a TOML config file (default ./"+DefaultConfigFile+" if present)")
	fs.String("addr", d.Addr, "HTTP listen address")
	fs.String("base-url", d.LLM.BaseURL, "OpenAI-compatible API base URL")
	fs.String("model", d.LLM.Model, "chat model name")
	fs.Duration("llm-timeout", d.LLM.Timeout, "timeout for one LLM round trip")
	fs.StringSlice("cors-origin", d.CORS.Origins, "allowed CORS origins (repeatable)")
	fs.String("audit-path", "", "write JSONL audit events to this file")
	fs.Int("transcript-limit", d.Transcript.Limit, "number of chat turns kept for /chat/history")
	fs.Bool("offline", false, "run without an LLM; /chat replies with an apology")
}

// ApplyFlags overrides cfg with every flag explicitly set on fs. Flags that
// were not registered on fs are skipped.
func ApplyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var errs []error
	changed := func(name string) bool { return fs.Lookup(name) != nil && fs.Changed(name) }
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if changed("addr") {
		v, err := fs.GetString("addr")
		collect(err)
		cfg.Addr = v
	}
	if changed("base-url") {
		v, err := fs.GetString("base-url")
		collect(err)
		cfg.LLM.BaseURL = v
	}
	if changed("model") {
		v, err := fs.GetString("model")
		collect(err)
		cfg.LLM.Model = v
	}
	if changed("llm-timeout") {
		v, err := fs.GetDuration("llm-timeout")
		collect(err)
		cfg.LLM.Timeout = v
	}
	if changed("cors-origin") {
		v, err := fs.GetStringSlice("cors-origin")
		collect(err)
		cfg.CORS.Origins = v
	}
	if changed("audit-path") {
		v, err := fs.GetString("audit-path")
		collect(err)
		cfg.Audit.Path = v
	}
	if changed("transcript-limit") {
		v, err := fs.GetInt("transcript-limit")
		collect(err)
		cfg.Transcript.Limit = v
	}
	if changed("offline") {
		v, err := fs.GetBool("offline")
		collect(err)
		cfg.Offline = v
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: flags: %w", err)
	}
	return nil
}

// Validate reports every problem at once. LLM settings are only checked
// when Offline is false.
//
// Expectations:
//   - Missing API key, base URL and model are listed together
//   - Non-positive timeout or transcript limit is an error
//   - Offline skips LLM checks
func (c *Config) Validate() error {
	var problems []string
	if c.Addr == "" {
		problems = append(problems, "addr is empty")
	}
	if c.Transcript.Limit <= 0 {
		problems = append(problems, fmt.Sprintf("transcript.limit must be positive, got %d", c.Transcript.Limit))
	}
	if !c.Offline {
		var missing []string
		if c.LLM.APIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
		if c.LLM.BaseURL == "" {
			missing = append(missing, "OPENAI_BASE_URL")
		}
		if c.LLM.Model == "" {
			missing = append(missing, "OPENAI_MODEL")
		}
		if len(missing) > 0 {
			problems = append(problems, "missing LLM settings: "+strings.Join(missing, ", "))
		}
		if c.LLM.Timeout <= 0 {
			problems = append(problems, fmt.Sprintf("llm.timeout must be positive, got %s", c.LLM.Timeout))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
