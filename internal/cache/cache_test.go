package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := cache.Get(ctx, "key2"); val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		now := time.Now()
		clocked := NewLRUCache(10)
		clocked.now = func() time.Time { return now }

		_ = clocked.Set(ctx, "expiring", []byte("temp"), 10*time.Second)
		if val, _ := clocked.Get(ctx, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		now = now.Add(11 * time.Second)
		if val, _ := clocked.Get(ctx, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)

		_ = small.Set(ctx, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, "c", []byte("3"), time.Minute)

		// Touch "a" so "b" becomes least recently used
		_, _ = small.Get(ctx, "a")
		_ = small.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := small.Get(ctx, "a"); val == nil {
			t.Error("expected 'a' to survive")
		}
		if size, capacity := small.Stats(); size != 3 || capacity != 3 {
			t.Errorf("expected 3/3, got %d/%d", size, capacity)
		}
	})
}

func TestLRUCacheResults(t *testing.T) {
	cache := NewLRUCache(10)
	ctx := context.Background()

	result := &domain.DetectionResult{
		TransactionID:  "tx-001",
		IsFraud:        true,
		FraudScore:     0.7,
		FraudReason:    "Transaction amount exceeds threshold",
		FraudSource:    domain.RuleSource("r1"),
		MatchedRuleIDs: []string{"r1"},
	}

	if err := cache.SetResult(ctx, result, time.Minute); err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}

	got, err := cache.GetResult(ctx, "tx-001")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if got == nil || !got.IsFraud || got.FraudSource != result.FraudSource {
		t.Errorf("unexpected cached result %+v", got)
	}

	missing, err := cache.GetResult(ctx, "tx-404")
	if err != nil || missing != nil {
		t.Errorf("expected nil miss, got %+v %v", missing, err)
	}
}

func TestLRUCounter(t *testing.T) {
	cache := NewLRUCache(10)
	ctx := context.Background()
	now := time.Now()
	cache.now = func() time.Time { return now }

	for i := int64(1); i <= 3; i++ {
		n, err := cache.IncrementCounter(ctx, "payer:a@example.com", time.Minute)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if n != i {
			t.Errorf("expected %d, got %d", i, n)
		}
	}

	now = now.Add(2 * time.Minute)
	n, _ := cache.IncrementCounter(ctx, "payer:a@example.com", time.Minute)
	if n != 1 {
		t.Errorf("expected a new window to restart at 1, got %d", n)
	}
}

func TestNewCache(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 5})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("expected *LRUCache, got %T", c)
	}

	if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
