package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/time/rate"

	"clipfit/internal/api"
	"clipfit/internal/budget"
	"clipfit/internal/config"
	"clipfit/internal/delivery"
	"clipfit/internal/encoding"
	"clipfit/internal/extractor"
	"clipfit/internal/jobstore"
	"clipfit/internal/logging"
	"clipfit/internal/media"
	"clipfit/internal/registry"
	"clipfit/internal/testsupport"
	"clipfit/internal/workflow"
	"clipfit/internal/workspace"
)

const testURL = "https://www.youtube.com/watch?v=abc123"

type stubExtractor struct {
	gate chan struct{}
}

func (s *stubExtractor) FetchManifest(context.Context, string) (extractor.Manifest, error) {
	if s.gate != nil {
		<-s.gate
	}
	return extractor.Manifest{
		Title:           "Clip",
		DurationSeconds: 10,
		Encodings:       []extractor.Encoding{{ID: "18", Width: 640, Height: 360, HasVideo: true, HasAudio: true}},
	}, nil
}

func (s *stubExtractor) Materialize(_ context.Context, req extractor.MaterializeRequest) (string, error) {
	path := filepath.Join(req.DestDir, req.BaseName+".mp4")
	return path, os.WriteFile(path, make([]byte, 64), 0o644)
}

type stubRunner struct{}

func (stubRunner) Run(_ context.Context, _, output string, _ media.TranscodeSpec) encoding.AttemptResult {
	if err := os.WriteFile(output, make([]byte, 32), 0o644); err != nil {
		return encoding.AttemptResult{Err: err}
	}
	return encoding.AttemptResult{Path: output, Size: 32, Success: true}
}

type fixture struct {
	cfg    *config.Config
	daemon *Daemon
	api    *apiServer
	store  *jobstore.Store
	gate   chan struct{}
	once   sync.Once
}

func newFixture(t *testing.T, gated bool, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()

	f := &fixture{cfg: cfg, store: store}
	ex := &stubExtractor{}
	if gated {
		f.gate = make(chan struct{})
		ex.gate = f.gate
		t.Cleanup(f.release)
	}
	hub := delivery.NewHub(cfg.Paths.OutboxDir, logger)
	ws := workspace.NewManager(cfg.Paths.WorkspaceDir, 0, logger)
	manager := workflow.NewManager(workflow.Dependencies{
		Extractor: ex,
		Attempts:  stubRunner{},
		Delivery:  hub,
		Workspace: ws,
		Registry:  registry.New(),
		Store:     store,
	}, workflow.Options{Budget: budget.SizeBudget{CeilingBytes: 1000, MarginBytes: 100}}, logger)

	d, err := New(cfg, logger, Components{Store: store, Workflow: manager, Hub: hub, Workspace: ws})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	srv, err := newAPIServer(cfg, d, logger)
	if err != nil || srv == nil {
		t.Fatalf("newAPIServer: %v", err)
	}
	f.daemon = d
	f.api = srv
	return f
}

func (f *fixture) release() {
	if f.gate != nil {
		f.once.Do(func() { close(f.gate) })
	}
}

func (f *fixture) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	w := httptest.NewRecorder()
	f.api.routes().ServeHTTP(w, req)
	return w
}

func (f *fixture) submit(t *testing.T, requester string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"requester":"` + requester + `","url":"` + testURL + `"}`
	return f.do(t, http.MethodPost, "/api/jobs", body, nil)
}

func TestDaemonStartStop(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !f.daemon.Running() || f.daemon.Addr() == "" {
		t.Fatal("expected daemon to be running with a listener")
	}
	if err := f.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other, err := New(f.cfg, logging.NewNop(), Components{
		Store:     f.store,
		Workflow:  f.daemon.workflow,
		Hub:       f.daemon.hub,
		Workspace: f.daemon.workspace,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := other.Start(ctx); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock contention error, got %v", err)
	}

	if err := f.daemon.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if f.daemon.Running() {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonStartMarksInterruptedJobs(t *testing.T) {
	f := newFixture(t, false)
	testsupport.InsertJob(t, f.store, "01STALE", "http:someone", testURL)

	if err := f.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = f.daemon.Stop(context.Background()) })

	rec, err := f.store.Get(context.Background(), "01STALE")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != jobstore.StatusFailed || rec.ErrorKind != "interrupted" {
		t.Fatalf("expected interrupted failure, got %+v", rec)
	}
}

func TestSubmitDeliversThroughEventsAndFile(t *testing.T) {
	f := newFixture(t, false)

	w := f.submit(t, "alice")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.SubmitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if resp.JobID == "" || resp.Requester != "http:alice" {
		t.Fatalf("unexpected submit response %+v", resp)
	}
	f.daemon.workflow.Wait()

	events := f.do(t, http.MethodGet, resp.EventsURL, "", nil)
	if ct := events.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var sawReady bool
	scanner := bufio.NewScanner(strings.NewReader(events.Body.String()))
	for scanner.Scan() {
		if scanner.Text() == "event: ready" {
			sawReady = true
		}
	}
	if !sawReady {
		t.Fatalf("expected a ready event, got %q", events.Body.String())
	}

	file := f.do(t, http.MethodGet, resp.FileURL, "", nil)
	if file.Code != http.StatusOK || file.Body.Len() != 32 {
		t.Fatalf("expected 32 byte file, got %d (%d bytes)", file.Code, file.Body.Len())
	}
	if disp := file.Header().Get("Content-Disposition"); !strings.HasPrefix(disp, "attachment") || !strings.Contains(disp, "Clip.mp4") {
		t.Fatalf("unexpected content disposition %q", disp)
	}

	if del := f.do(t, http.MethodDelete, resp.FileURL, "", nil); del.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", del.Code)
	}
	if again := f.do(t, http.MethodGet, resp.FileURL, "", nil); again.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", again.Code)
	}

	job := f.do(t, http.MethodGet, "/api/jobs/"+resp.JobID, "", nil)
	var jobResp api.JobResponse
	if err := json.Unmarshal(job.Body.Bytes(), &jobResp); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if jobResp.Job.Status != "completed" || jobResp.Job.FinalSize != 32 {
		t.Fatalf("unexpected job %+v", jobResp.Job)
	}
}

func TestSubmitConflictWhileActive(t *testing.T) {
	f := newFixture(t, true)

	if w := f.submit(t, "bob"); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	w := f.submit(t, "bob")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var errResp api.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Kind != "concurrency" {
		t.Fatalf("unexpected error kind %q", errResp.Kind)
	}

	list := f.do(t, http.MethodGet, "/api/jobs?status=running", "", nil)
	var listResp api.JobListResponse
	if err := json.Unmarshal(list.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listResp.Jobs) != 1 || !listResp.Jobs[0].Active {
		t.Fatalf("expected one running job, got %+v", listResp.Jobs)
	}

	f.release()
	f.daemon.workflow.Wait()
	if w := f.submit(t, "bob"); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 after completion, got %d", w.Code)
	}
	f.daemon.workflow.Wait()
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, false)
	cases := []string{
		`{"requester":"x","url":""}`,
		`{"requester":"x","url":"` + testURL + `","kind":"gif"}`,
		`not json`,
	}
	for _, body := range cases {
		if w := f.do(t, http.MethodPost, "/api/jobs", body, nil); w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}
	}
	if w := f.do(t, http.MethodGet, "/api/jobs?status=bogus", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	f := newFixture(t, false)
	f.api.limiter = rate.NewLimiter(rate.Limit(0.001), 1)

	if w := f.submit(t, "carol"); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	w := f.submit(t, "dave")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	f.daemon.workflow.Wait()
}

func TestAuthRequiresBearerToken(t *testing.T) {
	f := newFixture(t, false, testsupport.WithAPIToken("s3cret"))

	if w := f.do(t, http.MethodGet, "/api/jobs", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	bad := http.Header{"Authorization": []string{"Bearer wrong"}}
	if w := f.do(t, http.MethodGet, "/api/jobs", "", bad); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}
	good := http.Header{"Authorization": []string{"Bearer s3cret"}}
	if w := f.do(t, http.MethodGet, "/api/jobs", "", good); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
}

func TestUnknownJobNotFound(t *testing.T) {
	f := newFixture(t, false)
	for _, path := range []string{"/api/jobs/nope", "/api/jobs/nope/events", "/api/jobs/nope/file"} {
		if w := f.do(t, http.MethodGet, path, "", nil); w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

func TestEventsReplayFinishedJobFromHistory(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	testsupport.InsertJob(t, f.store, "01DONE", "http:erin", testURL)
	if err := f.store.Finish(ctx, "01DONE", jobstore.Outcome{
		Status:       jobstore.StatusFailed,
		ErrorKind:    "size_constraint",
		ErrorMessage: "too large",
	}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	w := f.do(t, http.MethodGet, "/api/jobs/01DONE/events", "", nil)
	body := w.Body.String()
	if !strings.Contains(body, "event: error") || !strings.Contains(body, "too large") {
		t.Fatalf("expected replayed error event, got %q", body)
	}
}

func TestRequestIDBecomesCorrelationID(t *testing.T) {
	f := newFixture(t, false)
	body := `{"requester":"frank","url":"` + testURL + `"}`
	w := f.do(t, http.MethodPost, "/api/jobs", body, http.Header{"X-Request-ID": []string{"trace-1"}})
	if w.Header().Get("X-Request-ID") != "trace-1" {
		t.Fatalf("expected request id echo, got %q", w.Header().Get("X-Request-ID"))
	}
	var resp api.SubmitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	f.daemon.workflow.Wait()
	rec, err := f.store.Get(context.Background(), resp.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.CorrelationID != "trace-1" {
		t.Fatalf("expected correlation id trace-1, got %q", rec.CorrelationID)
	}
}

func TestStatusReportsBudgetAndCounts(t *testing.T) {
	f := newFixture(t, false, testsupport.WithStubbedBinaries())
	w := f.do(t, http.MethodGet, "/api/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var status api.DaemonStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Budget.CeilingBytes != 1000 || status.Budget.TargetBytes != 900 {
		t.Fatalf("unexpected budget %+v", status.Budget)
	}
	if len(status.Dependencies) != 3 {
		t.Fatalf("expected 3 dependencies, got %d", len(status.Dependencies))
	}
	for _, dep := range status.Dependencies {
		if !dep.Available {
			t.Fatalf("expected stubbed %s to be available", dep.Name)
		}
	}
	if _, ok := status.JobCounts["running"]; !ok {
		t.Fatalf("expected job counts, got %v", status.JobCounts)
	}
}

func TestHTTPRequester(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	cases := map[string]string{
		"":           "http:10.0.0.7",
		"alice":      "http:alice",
		"http:alice": "http:alice",
	}
	for in, want := range cases {
		if got := httpRequester(in, req); got != want {
			t.Fatalf("httpRequester(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveRequesterRelaysTelegramOnlyWhenEnabled(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", nil)
	req.RemoteAddr = "10.0.0.7:5555"

	srv := &apiServer{}
	if got := srv.resolveRequester("telegram:42", req); got != "http:telegram:42" {
		t.Fatalf("relay disabled: got %q", got)
	}
	srv.relayTelegram = true
	if got := srv.resolveRequester("telegram:42", req); got != "telegram:42" {
		t.Fatalf("relay enabled: got %q", got)
	}
	if got := srv.resolveRequester("telegram:", req); got != "http:telegram:" {
		t.Fatalf("empty chat id: got %q", got)
	}
}
