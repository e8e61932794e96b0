package similarity_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/stepforge/internal/similarity"
	"github.com/MrWong99/stepforge/pkg/provider/embeddings/mock"
)

func TestCache_ComputesOnceUnderConcurrency(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{EmbedResult: []float32{0.3, 0.4}}
	c := similarity.NewCache(p)

	const workers = 32
	results := make([][]float32, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrCompute(context.Background(), "Open the portal")
			if err != nil {
				t.Errorf("GetOrCompute: %v", err)
				return
			}
			results[i] = v
		}()
	}
	wg.Wait()

	if got := p.EmbedCallCount(); got != 1 {
		t.Errorf("embed calls = %d, want 1", got)
	}
	for i, v := range results {
		if len(v) == 0 || &v[0] != &results[0][0] {
			t.Fatalf("result %d is not the identical cached slice", i)
		}
	}
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{EmbedErr: errors.New("boom"), EmbedResult: []float32{1}}
	c := similarity.NewCache(p)

	if _, err := c.GetOrCompute(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	if c.Len() != 0 {
		t.Errorf("failed entry kept: Len = %d", c.Len())
	}

	p.EmbedErr = nil
	if _, err := c.GetOrCompute(context.Background(), "x"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := p.EmbedCallCount(); got != 2 {
		t.Errorf("embed calls = %d, want 2", got)
	}
}

func TestCache_EmptyVectorIsError(t *testing.T) {
	t.Parallel()
	c := similarity.NewCache(&mock.Provider{})
	if _, err := c.GetOrCompute(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}

func TestCache_Warm(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{EmbedResult: []float32{1, 0}}
	c := similarity.NewCache(p)
	ctx := context.Background()

	if err := c.Warm(ctx, []string{"a", "b", "a"}); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if len(p.EmbedBatchCalls) != 1 || len(p.EmbedBatchCalls[0].Texts) != 2 {
		t.Fatalf("batch calls = %+v, want one call with 2 texts", p.EmbedBatchCalls)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}

	if _, err := c.GetOrCompute(ctx, "a"); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if len(p.EmbedCalls) != 0 {
		t.Errorf("warmed text embedded again")
	}

	// Only texts not yet cached are sent.
	if err := c.Warm(ctx, []string{"a", "c"}); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if got := p.EmbedBatchCalls[1].Texts; len(got) != 1 || got[0] != "c" {
		t.Errorf("second warm sent %q, want [c]", got)
	}

	c.Reset()
	if c.Len() != 0 {
		t.Errorf("Len after Reset = %d", c.Len())
	}
}

func TestCache_WarmFailure(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{EmbedBatchErr: errors.New("unavailable")}
	c := similarity.NewCache(p)
	if err := c.Warm(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error")
	}
	if c.Len() != 0 {
		t.Errorf("failed warm left %d entries", c.Len())
	}
}

func TestCache_WaiterHonoursContext(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	p := &blockingProvider{Provider: mock.Provider{EmbedResult: []float32{1}}, release: block}
	c := similarity.NewCache(p)

	go func() { _, _ = c.GetOrCompute(context.Background(), "slow") }()
	<-p.started()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.GetOrCompute(ctx, "slow"); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	close(block)
}

// blockingProvider holds Embed until release is closed.
type blockingProvider struct {
	mock.Provider
	release chan struct{}

	once  sync.Once
	start chan struct{}
	mu    sync.Mutex
}

func (b *blockingProvider) started() chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.start == nil {
		b.start = make(chan struct{})
	}
	return b.start
}

func (b *blockingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	start := b.started()
	b.once.Do(func() { close(start) })
	<-b.release
	return b.Provider.Embed(ctx, text)
}
