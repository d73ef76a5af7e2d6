package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envVars = []string{
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL",
	"AGTODO_ADDR", "AGTODO_LLM_TIMEOUT", "AGTODO_AUDIT_PATH",
	"AGTODO_CORS_ORIGINS", "AGTODO_TRANSCRIPT_LIMIT",
}

// isolate runs the test in an empty directory with every agtodo variable unset.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, k := range envVars {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	// A missing DefaultConfigFile is not an error
	isolate(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":5000", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, []string{"*"}, cfg.CORS.Origins)
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	// An explicit path that cannot be read is an error
	dir := isolate(t)
	_, err := Load(filepath.Join(dir, "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.toml")
}

func TestLoad_TOMLFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, DefaultConfigFile), `
addr = ":8080"

[llm]
model = "gpt-4o-mini"
timeout = "5s"

[cors]
origins = ["http://localhost:3000"]

[audit]
path = "audit.jsonl"

[transcript]
limit = 10
`)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, DefaultBaseURL, cfg.LLM.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORS.Origins)
	assert.Equal(t, "audit.jsonl", cfg.Audit.Path)
	assert.Equal(t, 10, cfg.Transcript.Limit)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	// Environment variables override file values
	dir := isolate(t)
	path := filepath.Join(dir, "custom.toml")
	writeFile(t, path, "addr = \":8080\"\n[llm]\nmodel = \"from-file\"\n")
	t.Setenv("OPENAI_MODEL", "from-env")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AGTODO_LLM_TIMEOUT", "2s")
	t.Setenv("AGTODO_CORS_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "from-env", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 2*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.Origins)
}

func TestLoad_DotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".env"), "OPENAI_API_KEY=sk-dotenv\nOPENAI_MODEL=dotenv-model\n")
	t.Setenv("OPENAI_MODEL", "process-model")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-dotenv", cfg.LLM.APIKey)
	assert.Equal(t, "process-model", cfg.LLM.Model)
	// godotenv set the variable for real; clear it for later tests
	require.NoError(t, os.Unsetenv("OPENAI_API_KEY"))
}

func TestLoad_MalformedEnv(t *testing.T) {
	// Malformed duration or integer env values are errors naming the variable
	isolate(t)
	t.Setenv("AGTODO_LLM_TIMEOUT", "soon")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGTODO_LLM_TIMEOUT")

	t.Setenv("AGTODO_LLM_TIMEOUT", "")
	t.Setenv("AGTODO_TRANSCRIPT_LIMIT", "lots")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGTODO_TRANSCRIPT_LIMIT")
}

func TestApplyFlags_OnlyChangedFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--addr", ":9999", "--offline", "--cors-origin", "http://x.test"}))

	cfg := Default()
	cfg.LLM.Model = "from-env"
	require.NoError(t, ApplyFlags(cfg, fs))
	assert.Equal(t, ":9999", cfg.Addr)
	assert.True(t, cfg.Offline)
	assert.Equal(t, []string{"http://x.test"}, cfg.CORS.Origins)
	assert.Equal(t, "from-env", cfg.LLM.Model, "unset flag must not reset a lower layer")
}

func TestApplyFlags_UnregisteredFlagsSkipped(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("addr", "", "")
	require.NoError(t, fs.Parse([]string{"--addr", ":1"}))

	cfg := Default()
	require.NoError(t, ApplyFlags(cfg, fs))
	assert.Equal(t, ":1", cfg.Addr)
}

func TestValidate_ListsAllMissingLLMSettings(t *testing.T) {
	// Missing API key, base URL and model are listed together
	cfg := Default()
	cfg.LLM.BaseURL = ""
	cfg.LLM.Model = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_MODEL")
}

func TestValidate_Bounds(t *testing.T) {
	// Non-positive timeout or transcript limit is an error
	cfg := Default()
	cfg.LLM.APIKey = "sk"
	cfg.LLM.Timeout = 0
	cfg.Transcript.Limit = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.timeout")
	assert.Contains(t, err.Error(), "transcript.limit")
}

func TestValidate_OfflineSkipsLLM(t *testing.T) {
	// Offline skips LLM checks
	cfg := Default()
	cfg.Offline = true
	assert.NoError(t, cfg.Validate())

	cfg.Offline = false
	cfg.LLM.APIKey = "sk"
	assert.NoError(t, cfg.Validate())
}
