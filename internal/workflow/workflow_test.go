package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"clipfit/internal/budget"
	"clipfit/internal/delivery"
	"clipfit/internal/encoding"
	"clipfit/internal/extractor"
	"clipfit/internal/jobstore"
	"clipfit/internal/logging"
	"clipfit/internal/media"
	"clipfit/internal/registry"
	"clipfit/internal/services"
	"clipfit/internal/testsupport"
	"clipfit/internal/workflow"
	"clipfit/internal/workspace"
)

const testURL = "https://www.youtube.com/watch?v=abc123"

func writeBytes(path string, size int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, make([]byte, size), 0o644)
}

type fakeExtractor struct {
	manifest     extractor.Manifest
	manifestErr  error
	sourceSize   int64
	gate         chan struct{}
	panicOnFetch bool
	downloadErr  error

	mu        sync.Mutex
	downloads int
}

func (f *fakeExtractor) FetchManifest(ctx context.Context, url string) (extractor.Manifest, error) {
	if f.panicOnFetch {
		panic("manifest parser exploded")
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.manifestErr != nil {
		return extractor.Manifest{}, f.manifestErr
	}
	return f.manifest, nil
}

func (f *fakeExtractor) Materialize(ctx context.Context, req extractor.MaterializeRequest) (string, error) {
	f.mu.Lock()
	f.downloads++
	f.mu.Unlock()
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	ext := ".mp4"
	if req.Kind == media.KindAudio {
		ext = ".mp3"
	}
	path := filepath.Join(req.DestDir, req.BaseName+ext)
	if req.Progress != nil {
		req.Progress(extractor.Progress{Phase: "downloading", Percent: 50, Total: "10MiB"})
	}
	if err := writeBytes(path, f.sourceSize); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeExtractor) downloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads
}

// fakeRunner writes outputs of the scripted sizes, one per call.
type fakeRunner struct {
	mu    sync.Mutex
	sizes []int64
	specs []media.TranscodeSpec
}

func (r *fakeRunner) Run(ctx context.Context, input, output string, spec media.TranscodeSpec) encoding.AttemptResult {
	r.mu.Lock()
	call := len(r.specs)
	r.specs = append(r.specs, spec)
	size := r.sizes[len(r.sizes)-1]
	if call < len(r.sizes) {
		size = r.sizes[call]
	}
	r.mu.Unlock()
	if err := writeBytes(output, size); err != nil {
		return encoding.AttemptResult{Err: err}
	}
	return encoding.AttemptResult{Path: output, Size: size, Success: true}
}

func (r *fakeRunner) calls() []media.TranscodeSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]media.TranscodeSpec(nil), r.specs...)
}

type delivered struct {
	name string
	size int64
}

type recordingChannel struct {
	mu         sync.Mutex
	progress   []string
	delivered  []delivered
	errors     []string
	deliverErr error
}

func (c *recordingChannel) ReportProgress(_ context.Context, _ delivery.Target, text string) error {
	c.mu.Lock()
	c.progress = append(c.progress, text)
	c.mu.Unlock()
	return nil
}

func (c *recordingChannel) DeliverFile(_ context.Context, _ delivery.Target, path, _ string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deliverErr != nil {
		return c.deliverErr
	}
	c.delivered = append(c.delivered, delivered{name: filepath.Base(path), size: info.Size()})
	return nil
}

func (c *recordingChannel) ReportError(_ context.Context, _ delivery.Target, message string) error {
	c.mu.Lock()
	c.errors = append(c.errors, message)
	c.mu.Unlock()
	return nil
}

func (c *recordingChannel) snapshot() ([]delivered, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivered(nil), c.delivered...), append([]string(nil), c.errors...)
}

type harness struct {
	manager   *workflow.Manager
	extractor *fakeExtractor
	runner    *fakeRunner
	channel   *recordingChannel
	registry  *registry.Registry
	root      string
}

func newHarness(t *testing.T, ex *fakeExtractor, runner *fakeRunner, store workflow.Store, concurrent int) *harness {
	t.Helper()
	root := t.TempDir()
	channel := &recordingChannel{}
	reg := registry.New()
	deps := workflow.Dependencies{
		Extractor: ex,
		Attempts:  runner,
		Delivery:  channel,
		Workspace: workspace.NewManager(root, 0, logging.NewNop()),
		Registry:  reg,
	}
	if store != nil {
		deps.Store = store
	}
	opts := workflow.Options{
		Budget:        budget.SizeBudget{CeilingBytes: 1000, MarginBytes: 100},
		MaxAttempts:   3,
		MaxConcurrent: concurrent,
	}
	return &harness{
		manager:   workflow.NewManager(deps, opts, logging.NewNop()),
		extractor: ex,
		runner:    runner,
		channel:   channel,
		registry:  reg,
		root:      root,
	}
}

func (h *harness) assertWorkspaceEmpty(t *testing.T) {
	t.Helper()
	testsupport.RequireEmptyDir(t, h.root)
}

func videoManifest() extractor.Manifest {
	return extractor.Manifest{
		ID:              "abc123",
		Title:           "Cat: the movie",
		DurationSeconds: 60,
		Encodings: []extractor.Encoding{
			{ID: "18", Ext: "mp4", Width: 640, Height: 360, HasVideo: true, HasAudio: true},
		},
	}
}

func TestVideoJobDeliversFittingArtifact(t *testing.T) {
	ex := &fakeExtractor{manifest: videoManifest(), sourceSize: 5000}
	runner := &fakeRunner{sizes: []int64{800}}
	h := newHarness(t, ex, runner, nil, 2)

	id, err := h.manager.Submit(context.Background(), workflow.Request{RequesterID: "telegram:1", URL: testURL})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id == "" {
		t.Fatal("expected job id")
	}
	h.manager.Wait()

	files, errs := h.channel.snapshot()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors reported: %v", errs)
	}
	if len(files) != 1 || files[0].size != 800 {
		t.Fatalf("unexpected deliveries: %+v", files)
	}
	if !strings.HasSuffix(files[0].name, ".mp4") || strings.Contains(files[0].name, ":") {
		t.Fatalf("expected sanitized mp4 name, got %q", files[0].name)
	}
	if len(runner.calls()) != 1 {
		t.Fatalf("expected a single transcode, got %d", len(runner.calls()))
	}
	if _, ok := h.manager.Job(id); ok {
		t.Fatal("finished job should be forgotten")
	}
	if h.registry.Len() != 0 {
		t.Fatal("registry entry should be cleared")
	}
	h.assertWorkspaceEmpty(t)
}

func TestVideoJobStepsDownUntilItFits(t *testing.T) {
	ex := &fakeExtractor{manifest: videoManifest(), sourceSize: 5000}
	runner := &fakeRunner{sizes: []int64{3000, 1500, 850}}
	h := newHarness(t, ex, runner, nil, 1)

	if _, err := h.manager.Submit(context.Background(), workflow.Request{RequesterID: "telegram:1", URL: testURL}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.manager.Wait()

	files, errs := h.channel.snapshot()
	if len(errs) != 0 || len(files) != 1 || files[0].size != 850 {
		t.Fatalf("expected delivery of the third candidate, files=%+v errs=%v", files, errs)
	}
	specs := runner.calls()
	if len(specs) != 3 {
		t.Fatalf("expected 3 transcodes, got %d", len(specs))
	}
	for i := 1; i < len(specs); i++ {
		if specs[i].Width >= specs[i-1].Width || specs[i].VideoBitrate > specs[i-1].VideoBitrate {
			t.Fatalf("attempt %d did not step down: %+v after %+v", i, specs[i], specs[i-1])
		}
	}
}

func TestVideoJobExhaustedIsNotDelivered(t *testing.T) {
	ex := &fakeExtractor{manifest: videoManifest(), sourceSize: 5000}
	runner := &fakeRunner{sizes: []int64{4000}}
	h := newHarness(t, ex, runner, nil, 1)

	if _, err := h.manager.Submit(context.Background(), workflow.Request{RequesterID: "telegram:1", URL: testURL}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.manager.Wait()

	files, errs := h.channel.snapshot()
	if len(files) != 0 {
		t.Fatalf("oversized artifact must not be delivered: %+v", files)
	}
	if len(errs) != 1 || errs[0] != services.UserMessage(services.ErrSizeConstraint) {
		t.Fatalf("expected size error message, got %v", errs)
	}
	if len(runner.calls()) != 4 {
		t.Fatalf("expected initial encode plus 3 retries, got %d", len(runner.calls()))
	}
	h.assertWorkspaceEmpty(t)
}

func TestAudioJobDeliversOversizedAfterSingleReencode(t *testing.T) {
	ex := &fakeExtractor{manifest: videoManifest(), sourceSize: 5000}
	runner := &fakeRunner{sizes: []int64{2000}}
	h := newHarness(t, ex, runner, nil, 1)

	if _, err := h.manager.Submit(context.Background(), workflow.Request{RequesterID: "telegram:1", URL: testURL, Kind: media.KindAudio}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.manager.Wait()

	files, errs := h.channel.snapshot()
	if len(errs) != 0 {
		t.Fatalf("audio over the ceiling is still delivered, got errors %v", errs)
	}
	if len(files) != 1 || files[0].size != 2000 || !strings.HasSuffix(files[0].name, "_reencoded.mp3") {
		t.Fatalf("unexpected deliveries: %+v", files)
	}
	specs := runner.calls()
	if len(specs) != 1 || !specs[0].AudioOnly() || specs[0].AudioBitrate != budget.AudioFallbackBitrate {
		t.Fatalf("expected one audio fallback encode, got %+v", specs)
	}
	h.assertWorkspaceEmpty(t)
}

func TestAudioJobWithinCeilingSkipsReencode(t *testing.T) {
	ex := &fakeExtractor{manifest: videoManifest(), sourceSize: 950}
	runner := &fakeRunner{sizes: []int64{1}}
	h := newHarness(t, ex, runner, nil, 1)

	if _, err := h.manager.Submit(context.Background(), workflow.Request{RequesterID: "telegram:1", URL: testURL, Kind: media.KindAudio}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.manager.Wait()

	files, _ := h.channel.snapshot()
	if len(files) != 1 || files[0].size != 950 || !strings.HasSuffix(files[0].name, ".mp3") {
		t.Fatalf("unexpected deliveries: %+v", files)
	}
	if len(runner.calls()) != 0 {
		t.Fatalf("audio within the ceiling should not be re-encoded")
	}
}

func TestNotFoundFailsBeforeDownload(t *testing.T) {
	ex := &fakeExtractor{
		manifestErr: services.Wrap(services.ErrAcquisition, "extractor", "fetch manifest", "", extractor.ErrNotFound),
	}
	runner := &fakeRunner{sizes: []int64{1}}
	h := newHarness(t, ex, runner, nil, 1)

	if _, err := h.manager.Submit(context.Background(), workflow.Request{RequesterID: "telegram:1", URL: testURL}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.manager.Wait()

	if ex.downloadCount() != 0 || len(runner.calls()) != 0 {
		t.Fatal("nothing should be downloaded or transcoded after a manifest failure")
	}
	files, errs := h.channel.snapshot()
	if len(files) != 0 || len(errs) != 1 || errs[0] != workflow.UserMessage(extractor.ErrNotFound) {
		t.Fatalf("unexpected outcome files=%+v errs=%v", files, errs)
	}
	if h.registry.Len() != 0 {
		t.Fatal("registry entry should be cleared after failure")
	}
	h.assertWorkspaceEmpty(t)
}

func TestSecondSubmissionRejectedWhileActive(t *testing.T) {
	gate := make(chan struct{})
	ex := &fakeExtractor{manifest: videoManifest(), sourceSize: 500, gate: gate}
	runner := &fakeRunner{sizes: []int64{500}}
	h := newHarness(t, ex, runner, nil, 2)

	req := workflow.Request{RequesterID: "telegram:1", URL: testURL}
	if _, err := h.manager.Submit(context.Background(), req); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	_, err := h.manager.Submit(context.Background(), req)
	if !errors.Is(err, services.ErrConcurrencyRejected) {
		t.Fatalf("expected concurrency rejection, got %v", err)
	}
	if _, err := h.manager.Submit(context.Background(), workflow.Request{RequesterID: "telegram:2", URL: testURL}); err != nil {
		t.Fatalf("other requester should be accepted: %v", err)
	}
	close(gate)
	h.manager.Wait()

	if _, err := h.manager.Submit(context.Background(), req); err != nil {
		t.Fatalf("Submit after completion: %v", err)
	}
	h.manager.Wait()
	files, _ := h.channel.snapshot()
	if len(files) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(files))
	}
}

func TestPanicInStageStillCleansUp(t *testing.T) {
	ex := &fakeExtractor{panicOnFetch: true}
	h := newHarness(t, ex, &fakeRunner{sizes: []int64{1}}, nil, 1)

	if _, err := h.manager.Submit(context.Background(), workflow.Request{RequesterID: "telegram:1", URL: testURL}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.manager.Wait()

	_, errs := h.channel.snapshot()
	if len(errs) != 1 {
		t.Fatalf("expected the panic to be reported as a failure, got %v", errs)
	}
	if h.registry.Len() != 0 || len(h.manager.Active()) != 0 {
		t.Fatal("panicking job should still be cleaned up")
	}
	h.assertWorkspaceEmpty(t)
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, &fakeExtractor{}, &fakeRunner{sizes: []int64{1}}, nil, 1)
	cases := []workflow.Request{
		{RequesterID: "", URL: testURL},
		{RequesterID: "telegram:1", URL: "  "},
		{RequesterID: "telegram:1", URL: testURL, Kind: "gif"},
	}
	for _, req := range cases {
		if _, err := h.manager.Submit(context.Background(), req); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Submit(%+v) expected validation error, got %v", req, err)
		}
	}
}

func TestShutdownRejectsNewJobsAndFailsQueued(t *testing.T) {
	gate := make(chan struct{})
	ex := &fakeExtractor{manifest: videoManifest(), sourceSize: 500, gate: gate}
	h := newHarness(t, ex, &fakeRunner{sizes: []int64{500}}, nil, 1)

	if _, err := h.manager.Submit(context.Background(), workflow.Request{RequesterID: "telegram:1", URL: testURL}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := h.manager.Submit(context.Background(), workflow.Request{RequesterID: "telegram:2", URL: testURL}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- h.manager.Shutdown(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, errs := h.channel.snapshot()
		if len(errs) == 1 {
			if errs[0] != workflow.UserMessage(workflow.ErrShuttingDown) {
				t.Fatalf("unexpected queued failure message %q", errs[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queued job was not failed on shutdown")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := h.manager.Submit(context.Background(), workflow.Request{RequesterID: "telegram:3", URL: testURL}); !errors.Is(err, workflow.ErrShuttingDown) {
		t.Fatalf("expected shutdown rejection, got %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	files, _ := h.channel.snapshot()
	if len(files) != 1 {
		t.Fatalf("running job should finish during shutdown, got %d deliveries", len(files))
	}
}

func TestJobHistoryRecorded(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ex := &fakeExtractor{manifest: videoManifest(), sourceSize: 5000}
	h := newHarness(t, ex, &fakeRunner{sizes: []int64{3000, 700}}, store, 1)

	ctx := services.WithRequestID(context.Background(), "req-42")
	id, err := h.manager.Submit(ctx, workflow.Request{RequesterID: "telegram:1", URL: testURL})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.manager.Wait()

	rec, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != jobstore.StatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
	if rec.Title != "Cat: the movie" || rec.FinalSize != 700 || rec.Attempts != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.CorrelationID != "req-42" {
		t.Fatalf("expected correlation id to flow from the request, got %q", rec.CorrelationID)
	}
}

func TestDeliveryFailureStillCleansUp(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ex := &fakeExtractor{manifest: videoManifest(), sourceSize: 5000}
	runner := &fakeRunner{sizes: []int64{800}}
	h := newHarness(t, ex, runner, store, 1)
	h.channel.deliverErr = errors.New("telegram returned 413: Request Entity Too Large")

	id, err := h.manager.Submit(context.Background(), workflow.Request{RequesterID: "telegram:1", URL: testURL})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.manager.Wait()

	files, errs := h.channel.snapshot()
	if len(files) != 0 {
		t.Fatalf("unexpected deliveries: %+v", files)
	}
	if len(errs) != 1 || errs[0] != services.UserMessage(services.ErrDelivery) {
		t.Fatalf("expected one delivery error message, got %v", errs)
	}
	if len(runner.calls()) != 1 {
		t.Fatalf("delivery failure must not re-enter the retry loop, got %d transcodes", len(runner.calls()))
	}
	if h.registry.Len() != 0 {
		t.Fatal("registry entry should be cleared")
	}
	h.assertWorkspaceEmpty(t)

	rec, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != jobstore.StatusFailed || rec.ErrorKind != string(services.ErrorKindDelivery) {
		t.Fatalf("expected failed delivery record, got %+v", rec)
	}
}

func TestDownloadFailureSkipsEncoding(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	downloadErr := services.Wrap(services.ErrAcquisition, "download", "yt-dlp", "connection reset",
		errors.Join(extractor.ErrDownloadFailed, extractor.ErrNetwork))
	ex := &fakeExtractor{manifest: videoManifest(), sourceSize: 5000, downloadErr: downloadErr}
	runner := &fakeRunner{sizes: []int64{800}}
	h := newHarness(t, ex, runner, store, 1)

	id, err := h.manager.Submit(context.Background(), workflow.Request{RequesterID: "telegram:1", URL: testURL})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.manager.Wait()

	files, errs := h.channel.snapshot()
	if len(files) != 0 || len(errs) != 1 || errs[0] != workflow.UserMessage(downloadErr) {
		t.Fatalf("expected a single download error, files=%+v errs=%v", files, errs)
	}
	if ex.downloadCount() != 1 || len(runner.calls()) != 0 {
		t.Fatalf("expected one download and no transcodes, got %d and %d", ex.downloadCount(), len(runner.calls()))
	}
	if h.registry.Len() != 0 {
		t.Fatal("registry entry should be cleared")
	}
	h.assertWorkspaceEmpty(t)

	rec, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != jobstore.StatusFailed || rec.ErrorKind != string(services.ErrorKindAcquisition) {
		t.Fatalf("expected failed acquisition record, got %+v", rec)
	}
}
