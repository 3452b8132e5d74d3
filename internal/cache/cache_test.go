package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/lvonguyen/cloudspend/internal/aggregator"
	"github.com/lvonguyen/cloudspend/internal/normalizer"
)

type fakeClient struct {
	mu      sync.Mutex
	data    map[string]string
	getErr  error
	setErr  error
	lastTTL time.Duration
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: make(map[string]string)}
}

func (f *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.data[key] = string(value.([]byte))
	f.lastTTL = expiration
	return redis.NewStatusResult("OK", nil)
}

type countingReader struct {
	calls   int
	results []aggregator.GroupResult
	err     error
}

func (r *countingReader) GroupCosts(ctx context.Context, q aggregator.Query) ([]aggregator.GroupResult, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return append([]aggregator.GroupResult(nil), r.results...), nil
}

func sampleResults() []aggregator.GroupResult {
	return []aggregator.GroupResult{
		{Group: "EC2", TotalCost: decimal.RequireFromString("15.25")},
		{Group: aggregator.MissingGroupLabel, Missing: true, TotalCost: decimal.NewFromInt(3)},
	}
}

func TestGroupCacheHit(t *testing.T) {
	inner := &countingReader{results: sampleResults()}
	client := newFakeClient()
	c := New(inner, client, 0, zaptest.NewLogger(t))
	q := aggregator.Query{TenantID: uuid.New(), GroupBy: normalizer.GroupByService}

	first, err := c.GroupCosts(context.Background(), q)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := c.GroupCosts(context.Background(), q)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}

	if inner.calls != 1 {
		t.Errorf("inner reader called %d times, want 1", inner.calls)
	}
	if client.lastTTL != DefaultTTL {
		t.Errorf("ttl = %v, want %v", client.lastTTL, DefaultTTL)
	}
	if len(second) != len(first) {
		t.Fatalf("cached = %v, want %v", second, first)
	}
	for i := range first {
		if second[i].Group != first[i].Group || second[i].Missing != first[i].Missing || !second[i].TotalCost.Equal(first[i].TotalCost) {
			t.Errorf("cached[%d] = %+v, want %+v", i, second[i], first[i])
		}
	}
}

func TestGroupCacheKeyedByQuery(t *testing.T) {
	inner := &countingReader{results: sampleResults()}
	c := New(inner, newFakeClient(), time.Minute, zaptest.NewLogger(t))
	tenant := uuid.New()

	_, _ = c.GroupCosts(context.Background(), aggregator.Query{TenantID: tenant, GroupBy: normalizer.GroupByService})
	_, _ = c.GroupCosts(context.Background(), aggregator.Query{TenantID: tenant, GroupBy: normalizer.GroupByProvider})
	_, _ = c.GroupCosts(context.Background(), aggregator.Query{TenantID: uuid.New(), GroupBy: normalizer.GroupByService})

	if inner.calls != 3 {
		t.Errorf("inner reader called %d times, want 3", inner.calls)
	}
}

func TestGroupCacheFallsBackOnRedisFailure(t *testing.T) {
	inner := &countingReader{results: sampleResults()}
	client := newFakeClient()
	client.getErr = errors.New("dial tcp: connection refused")
	client.setErr = errors.New("dial tcp: connection refused")
	c := New(inner, client, time.Minute, zaptest.NewLogger(t))
	q := aggregator.Query{TenantID: uuid.New(), GroupBy: normalizer.GroupByService}

	for i := 0; i < 2; i++ {
		got, err := c.GroupCosts(context.Background(), q)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if len(got) != 2 {
			t.Errorf("read %d = %v", i, got)
		}
	}
	if inner.calls != 2 {
		t.Errorf("inner reader called %d times, want 2", inner.calls)
	}
}

func TestGroupCacheDoesNotStoreErrors(t *testing.T) {
	inner := &countingReader{err: errors.New("boom")}
	client := newFakeClient()
	c := New(inner, client, time.Minute, zaptest.NewLogger(t))

	if _, err := c.GroupCosts(context.Background(), aggregator.Query{TenantID: uuid.New(), GroupBy: normalizer.GroupByService}); err == nil {
		t.Fatal("expected the inner error")
	}
	if len(client.data) != 0 {
		t.Errorf("cache stored %d entries after a failed read", len(client.data))
	}
}

func TestGroupCacheIgnoresCorruptEntry(t *testing.T) {
	inner := &countingReader{results: sampleResults()}
	client := newFakeClient()
	q := aggregator.Query{TenantID: uuid.New(), GroupBy: normalizer.GroupByService}
	key, err := Key(q)
	if err != nil {
		t.Fatal(err)
	}
	client.data[key] = "not json"

	got, err := New(inner, client, time.Minute, zaptest.NewLogger(t)).GroupCosts(context.Background(), q)
	if err != nil || len(got) != 2 || inner.calls != 1 {
		t.Errorf("got %v err %v calls %d", got, err, inner.calls)
	}
}
