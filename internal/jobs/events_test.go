package jobs_test

import (
	"sync"
	"testing"

	"github.com/MrWong99/stepforge/internal/jobs"
)

func TestEventBus_SequenceAndFilter(t *testing.T) {
	t.Parallel()
	b := jobs.NewEventBus(10)

	b.Publish(jobs.Event{JobID: "a", Type: jobs.EventStatus, Status: jobs.StatusQueued})
	b.Publish(jobs.Event{JobID: "b", Type: jobs.EventStatus, Status: jobs.StatusQueued})
	e := b.Publish(jobs.Event{JobID: "a", Type: jobs.EventStatus, Status: jobs.StatusRunning})

	if e.Seq != 3 || e.Timestamp.IsZero() {
		t.Errorf("published event = %+v", e)
	}
	if got := b.Since("a", 0); len(got) != 2 || got[1].Status != jobs.StatusRunning {
		t.Errorf("Since(a, 0) = %+v", got)
	}
	if got := b.Since("a", 1); len(got) != 1 || got[0].Seq != 3 {
		t.Errorf("Since(a, 1) = %+v", got)
	}
	if got := b.Since("", 0); len(got) != 3 {
		t.Errorf("Since(\"\", 0) returned %d events", len(got))
	}
	if got := b.Since("a", 3); got == nil || len(got) != 0 {
		t.Errorf("Since past the end = %#v, want empty slice", got)
	}
	if b.LastSeq() != 3 {
		t.Errorf("LastSeq = %d", b.LastSeq())
	}
}

func TestEventBus_Trims(t *testing.T) {
	t.Parallel()
	b := jobs.NewEventBus(3)
	for range 5 {
		b.Publish(jobs.Event{JobID: "a"})
	}
	got := b.Since("", 0)
	if len(got) != 3 {
		t.Fatalf("retained %d events, want 3", len(got))
	}
	if got[0].Seq != 3 || got[2].Seq != 5 {
		t.Errorf("retained seqs %d..%d, want 3..5", got[0].Seq, got[2].Seq)
	}
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	t.Parallel()
	b := jobs.NewEventBus(0)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 50 {
				b.Publish(jobs.Event{JobID: "a"})
			}
		})
	}
	wg.Wait()

	if b.LastSeq() != 400 {
		t.Errorf("LastSeq = %d, want 400", b.LastSeq())
	}
	got := b.Since("", 0)
	if len(got) != 400 {
		t.Fatalf("retained %d, want 400", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Seq != got[i-1].Seq+1 {
			t.Fatalf("gap between %d and %d", got[i-1].Seq, got[i].Seq)
		}
	}
}
