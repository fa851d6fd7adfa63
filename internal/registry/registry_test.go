package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"clipfit/internal/services"
)

func TestSubmitRejectsSecondJobForRequester(t *testing.T) {
	r := New()
	if err := r.Submit("telegram:1", "job-a"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	err := r.Submit("telegram:1", "job-b")
	if !errors.Is(err, ErrJobActive) || !errors.Is(err, services.ErrConcurrencyRejected) {
		t.Fatalf("expected concurrency rejection, got %v", err)
	}
	if entry, _ := r.Lookup("telegram:1"); entry.JobID != "job-a" {
		t.Fatalf("rejected submit replaced entry: %+v", entry)
	}
}

func TestCompleteAllowsResubmission(t *testing.T) {
	r := New()
	if err := r.Submit("cli:me", "job-a"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !r.Complete("cli:me", "job-a") {
		t.Fatal("expected complete to remove entry")
	}
	if err := r.Submit("cli:me", "job-b"); err != nil {
		t.Fatalf("resubmit after completion: %v", err)
	}
}

func TestCompleteIgnoresStaleJobID(t *testing.T) {
	r := New()
	if err := r.Submit("http:x", "job-new"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if r.Complete("http:x", "job-old") {
		t.Fatal("stale job id must not remove the current entry")
	}
	if r.Len() != 1 {
		t.Fatalf("expected entry to remain, len=%d", r.Len())
	}
	if r.Complete("missing", "job") {
		t.Fatal("unknown requester must report false")
	}
}

func TestConcurrentSubmitsOneWinnerPerRequester(t *testing.T) {
	r := New()
	const requesters = 20
	const attempts = 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := make(map[string]int)
	for i := 0; i < requesters; i++ {
		for j := 0; j < attempts; j++ {
			i, j := i, j
			wg.Add(1)
			go func() {
				defer wg.Done()
				requester := fmt.Sprintf("r%d", i)
				if err := r.Submit(requester, fmt.Sprintf("job-%d-%d", i, j)); err == nil {
					mu.Lock()
					accepted[requester]++
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	if len(accepted) != requesters {
		t.Fatalf("expected every requester to get a job, got %d", len(accepted))
	}
	for requester, count := range accepted {
		if count != 1 {
			t.Fatalf("requester %s accepted %d jobs", requester, count)
		}
	}
	if got := len(r.Active()); got != requesters {
		t.Fatalf("expected %d active entries, got %d", requesters, got)
	}
}
