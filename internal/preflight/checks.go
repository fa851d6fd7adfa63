package preflight

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sys/unix"

	"clipfit/internal/config"
	"clipfit/internal/delivery"
	"clipfit/internal/deps"
	"clipfit/internal/workspace"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that the filesystem holding path has at least
// minFree bytes available. A zero minimum only reports the free space.
func CheckFreeSpace(name, path string, minFree uint64) Result {
	free, err := workspace.FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	detail := fmt.Sprintf("%s free", humanize.IBytes(free))
	if minFree > 0 && free < minFree {
		return Result{Name: name, Detail: fmt.Sprintf("%s, need %s", detail, humanize.IBytes(minFree))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckTelegram verifies the bot token with getMe.
func CheckTelegram(ctx context.Context, baseURL, token string) Result {
	const name = "Telegram"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing api base url"}
	}
	if strings.TrimSpace(token) == "" {
		return Result{Name: name, Detail: "missing bot token"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	bot := delivery.BindContext(checkCtx, delivery.NewBotAPI(base, token, client), client)
	user, err := bot.GetMe()
	if err != nil {
		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) {
			// The URL carries the token; never echo the raw error.
			return Result{Name: name, Detail: "auth check failed (unreachable)"}
		}
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusNotFound:
			return Result{Name: name, Detail: "auth failed (invalid bot token)"}
		default:
			return Result{Name: name, Detail: fmt.Sprintf("auth check failed (%d %s)", apiErr.Code, apiErr.Message)}
		}
	}
	if user.UserName != "" {
		return Result{Name: name, Passed: true, Detail: "@" + user.UserName}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckSystemDeps evaluates the external binaries for the given config.
// Both the daemon and the CLI status command use it.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Required for transcoding",
			VersionArgs: []string{"-version"},
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Required for output verification",
			Optional:    !cfg.Transcoder.VerifyOutput,
			VersionArgs: []string{"-version"},
		},
		{
			Name:        "yt-dlp",
			Command:     cfg.ExtractorBinary(),
			Description: "Required for media extraction",
			VersionArgs: []string{"--version"},
		},
	}
	return deps.CheckBinaries(ctx, requirements)
}
