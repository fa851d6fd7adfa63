package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clipfit/internal/config"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	binDir     string
}

type envOption func(*envSettings)

type envSettings struct {
	apiBind  string
	apiToken string
}

func withAPIBind(bind string) envOption {
	return func(s *envSettings) { s.apiBind = bind }
}

func withAPIToken(token string) envOption {
	return func(s *envSettings) { s.apiToken = token }
}

func setupCLITestEnv(t *testing.T, opts ...envOption) *cliTestEnv {
	t.Helper()

	settings := envSettings{apiBind: "127.0.0.1:0"}
	for _, opt := range opts {
		opt(&settings)
	}

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("CLIPFIT_TELEGRAM_TOKEN", "")
	t.Setenv("CLIPFIT_API_TOKEN", "")
	t.Setenv("NTFY_TOPIC", "")

	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "clipfit.toml"),
		binDir:     filepath.Join(base, "bin"),
	}
	if err := os.MkdirAll(env.binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}

	content := fmt.Sprintf(`[paths]
workspace_dir = %q
outbox_dir = %q
state_dir = %q
log_dir = %q
api_bind = %q

[transcoder]
ffmpeg_binary = %q
ffprobe_binary = %q

[extractor]
binary = %q

[workflow]
min_free_mib = 0

[api]
token = %q

[logging]
level = "warn"
`,
		filepath.Join(base, "work"),
		filepath.Join(base, "outbox"),
		filepath.Join(base, "state"),
		filepath.Join(base, "logs"),
		settings.apiBind,
		env.stub(t, "ffmpeg", "exit 0"),
		env.stub(t, "ffprobe", "exit 0"),
		env.stub(t, "yt-dlp", `echo "ERROR: Unsupported URL: $*" >&2; exit 1`),
		settings.apiToken,
	)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

// stub writes an executable shell script and returns its path.
func (e *cliTestEnv) stub(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.binDir, name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return path
}

func (e *cliTestEnv) loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, _, _, err := config.Load(e.configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return cfg
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
