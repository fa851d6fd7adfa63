package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clipfit/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("free", dir, 0); !result.Passed || !strings.HasSuffix(result.Detail, "free") {
		t.Fatalf("expected pass with zero minimum, got %+v", result)
	}
	if result := CheckFreeSpace("free", dir, 1<<62); result.Passed {
		t.Fatalf("expected failure for an impossible minimum, got %+v", result)
	}
	if result := CheckFreeSpace("free", filepath.Join(dir, "missing"), 0); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckTelegram_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botgood-token/getMe" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"username":"clipfit_bot"}}`))
	}))
	defer srv.Close()

	result := CheckTelegram(context.Background(), srv.URL, "good-token")
	if !result.Passed || result.Detail != "@clipfit_bot" {
		t.Fatalf("expected pass, got: %+v", result)
	}
}

func TestCheckTelegram_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	result := CheckTelegram(context.Background(), srv.URL, "bad-token")
	if result.Passed || result.Detail != "auth failed (invalid bot token)" {
		t.Fatalf("expected invalid token failure, got %+v", result)
	}
	if strings.Contains(result.Detail, "bad-token") {
		t.Fatalf("detail leaks the token: %s", result.Detail)
	}
}

func TestCheckTelegram_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	result := CheckTelegram(context.Background(), url, "secret-token")
	if result.Passed || strings.Contains(result.Detail, "secret-token") {
		t.Fatalf("expected redacted unreachable failure, got %+v", result)
	}
}

func TestCheckTelegram_MissingValues(t *testing.T) {
	if CheckTelegram(context.Background(), "", "token").Passed {
		t.Fatal("expected failure for missing URL")
	}
	if CheckTelegram(context.Background(), "http://localhost", "").Passed {
		t.Fatal("expected failure for missing token")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func minimalConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.WorkspaceDir = t.TempDir()
	cfg.Paths.OutboxDir = t.TempDir()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Workflow.MinFreeMiB = 0
	cfg.Telegram.Enabled = false
	return cfg
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := minimalConfig(t)

	results := RunAll(context.Background(), &cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_IncludesTelegramWhenEnabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true}}`))
	}))
	defer srv.Close()

	cfg := minimalConfig(t)
	cfg.Telegram.Enabled = true
	cfg.Telegram.APIBaseURL = srv.URL
	cfg.Telegram.BotToken = "test"

	results := RunAll(context.Background(), &cfg)
	found := false
	for _, r := range results {
		if r.Name == "Telegram" {
			found = true
			if !r.Passed {
				t.Errorf("Telegram check failed: %s", r.Detail)
			}
		}
	}
	if !found {
		t.Fatal("expected Telegram check in results")
	}
}

func TestCheckSystemDepsReportsConfiguredBinaries(t *testing.T) {
	cfg := minimalConfig(t)
	cfg.Transcoder.FFmpegBinary = "clipfit-missing-ffmpeg"
	cfg.Transcoder.FFprobeBinary = "clipfit-missing-ffprobe"
	cfg.Extractor.Binary = "clipfit-missing-ytdlp"

	statuses := CheckSystemDeps(context.Background(), &cfg)
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	for _, status := range statuses {
		if status.Available {
			t.Fatalf("expected %s to be unavailable", status.Name)
		}
	}
}
