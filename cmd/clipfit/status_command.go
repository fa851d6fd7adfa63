package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"clipfit/internal/api"
	"clipfit/internal/budget"
	"clipfit/internal/config"
	"clipfit/internal/jobstore"
	"clipfit/internal/preflight"
)

const statusRequestTimeout = 3 * time.Second

// errDaemonUnavailable marks a status request that found no daemon listening.
var errDaemonUnavailable = errors.New("daemon not reachable")

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency and job status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, err := fetchDaemonStatus(cmd.Context(), cfg)
			if err != nil && !errors.Is(err, errDaemonUnavailable) {
				return err
			}
			if err != nil {
				status = localStatus(cmd.Context(), cfg)
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			for _, line := range renderStatus(status, shouldColorize(out)) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

// fetchDaemonStatus asks a running daemon for its status over the HTTP API.
// A refused or timed out connection yields errDaemonUnavailable.
func fetchDaemonStatus(ctx context.Context, cfg *config.Config) (api.DaemonStatus, error) {
	var status api.DaemonStatus
	base := apiBaseURL(cfg.Paths.APIBind)
	if base == "" {
		return status, errDaemonUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, statusRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/status", nil)
	if err != nil {
		return status, err
	}
	if token := strings.TrimSpace(cfg.API.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return status, fmt.Errorf("%w: %v", errDaemonUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = resp.Status
		}
		return status, fmt.Errorf("daemon status: %s", body.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("decode daemon status: %w", err)
	}
	return status, nil
}

// apiBaseURL turns a listen address into a dialable URL. Wildcard hosts
// map to loopback.
func apiBaseURL(bind string) string {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(bind)
	if err != nil || port == "" || port == "0" {
		return ""
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// localStatus gathers what can be known without a daemon.
func localStatus(ctx context.Context, cfg *config.Config) api.DaemonStatus {
	status := api.DaemonStatus{
		DatabasePath: cfg.DatabasePath(),
		LockFilePath: cfg.LockPath(),
		Budget: api.FromBudget(budget.SizeBudget{
			CeilingBytes: cfg.CeilingBytes(),
			MarginBytes:  cfg.MarginBytes(),
		}, cfg.Budget.MaxAttempts),
		Dependencies: api.FromDependencies(preflight.CheckSystemDeps(ctx, cfg)),
		Checks:       api.FromChecks(preflight.RunAll(ctx, cfg)),
	}
	if store, err := jobstore.Open(cfg); err == nil {
		if counts, err := store.Counts(ctx); err == nil {
			status.JobCounts = api.FromCounts(counts)
		}
		_ = store.Close()
	}
	return status
}
