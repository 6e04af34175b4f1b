package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		received := make(chan *domain.Message, 1)
		_, err := bus.Subscribe(ctx, "test.topic", func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, "test.topic", []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-received:
			if string(msg.Payload) != "hello" {
				t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
			}
			if msg.Topic != "test.topic" || msg.ID == "" {
				t.Errorf("unexpected envelope %+v", msg)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var a, b atomic.Int32
		bus.Subscribe(ctx, "iso.a", func(ctx context.Context, msg *domain.Message) error {
			a.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "iso.b", func(ctx context.Context, msg *domain.Message) error {
			b.Add(1)
			return nil
		})

		bus.Publish(ctx, "iso.a", []byte("x"))
		waitFor(t, func() bool { return a.Load() == 1 })
		time.Sleep(20 * time.Millisecond)
		if b.Load() != 0 {
			t.Errorf("iso.b should receive nothing, got %d", b.Load())
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, "unsub.topic", []byte("1"))
		waitFor(t, func() bool { return count.Load() == 1 })

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		bus.Publish(ctx, "unsub.topic", []byte("2"))
		time.Sleep(20 * time.Millisecond)
		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
		if sub.Topic() != "unsub.topic" {
			t.Errorf("unexpected topic %s", sub.Topic())
		}
	})

	t.Run("Broadcast", func(t *testing.T) {
		var count atomic.Int32
		for i := 0; i < 2; i++ {
			bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
				count.Add(1)
				return nil
			})
		}
		bus.Publish(ctx, "multi.topic", []byte("broadcast"))
		waitFor(t, func() bool { return count.Load() == 2 })
	})
}

func TestChannelBusRequestReply(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()
	ctx := context.Background()

	bus.Subscribe(ctx, "echo", func(ctx context.Context, msg *domain.Message) error {
		return bus.Reply(ctx, msg, append([]byte("re:"), msg.Payload...))
	})

	t.Run("Answered", func(t *testing.T) {
		rctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		reply, err := bus.Request(rctx, "echo", []byte("ping"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if string(reply) != "re:ping" {
			t.Errorf("expected re:ping, got %s", reply)
		}
	})

	t.Run("NoResponder", func(t *testing.T) {
		rctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err := bus.Request(rctx, "nobody.home", []byte("ping"))
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("ReplyWithoutAddress", func(t *testing.T) {
		err := bus.Reply(ctx, &domain.Message{ID: "m", Metadata: map[string]string{}}, nil)
		if err == nil {
			t.Error("expected error replying to a non-request")
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(10)
	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})
	bus.Close()

	if err := bus.Publish(ctx, "close.topic", []byte("data")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := bus.Subscribe(ctx, "x", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping to fail on a closed bus")
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestNewBus(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*ChannelBus); !ok {
		t.Errorf("expected *ChannelBus, got %T", b)
	}
	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestChannelBusUnderLoad(t *testing.T) {
	bus := NewChannelBus(10000)
	defer bus.Close()
	ctx := context.Background()

	var count atomic.Int32
	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		count.Add(1)
		return nil
	})

	for i := 0; i < 1000; i++ {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}
	waitFor(t, func() bool { return count.Load() == 1000 })
}

func TestChannelBusFullBufferBlocks(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()
	ctx := context.Background()

	var count atomic.Int32
	bus.Subscribe(ctx, "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		time.Sleep(2 * time.Millisecond)
		count.Add(1)
		return nil
	})

	for i := 0; i < 50; i++ {
		if err := bus.Publish(ctx, "slow.topic", []byte("msg")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}
	waitFor(t, func() bool { return count.Load() == 50 })
}

func TestChannelBusPublishCancelled(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	bus.Subscribe(context.Background(), "stuck.topic", func(ctx context.Context, msg *domain.Message) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	if err := bus.Publish(context.Background(), "stuck.topic", []byte("first")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	<-started
	if err := bus.Publish(context.Background(), "stuck.topic", []byte("buffered")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := bus.Publish(ctx, "stuck.topic", []byte("blocked"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
