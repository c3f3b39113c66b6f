package bus

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func runNATSServer(t *testing.T) *server.Server {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNATSBus(t *testing.T) {
	ns := runNATSServer(t)

	bus, err := NewNATSBus(domain.EventBusConfig{
		Type:              "nats",
		NATSUrl:           ns.ClientURL(),
		NATSMaxReconnects: 1,
		NATSReconnectWait: 1,
	})
	if err != nil {
		t.Fatalf("NewNATSBus failed: %v", err)
	}
	defer bus.Close()

	ctx := context.Background()
	dataset := "retail-uk"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		sub, err := bus.Subscribe(ctx, dataset, domain.TopicLedgerRefreshed, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		if err := bus.Ping(ctx); err != nil {
			t.Fatalf("ping failed: %v", err)
		}
		if err := bus.Publish(ctx, dataset, domain.TopicLedgerRefreshed, []byte("v2")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-got:
			if msg.Dataset != dataset || string(msg.Payload) != "v2" {
				t.Errorf("unexpected message %+v", msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		sub, err := bus.Subscribe(ctx, dataset, "echo.topic", func(ctx context.Context, msg *domain.Message) error {
			return Reply(ctx, bus, msg, append([]byte("echo:"), msg.Payload...))
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()
		_ = bus.Ping(ctx)

		reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		reply, err := bus.Request(reqCtx, dataset, "echo.topic", []byte("ping"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if string(reply) != "echo:ping" {
			t.Errorf("expected 'echo:ping', got %q", reply)
		}
	})

	t.Run("Subject", func(t *testing.T) {
		if got := bus.makeSubject(dataset, "a.b"); got != "kestrel.retail-uk.a.b" {
			t.Errorf("unexpected subject %s", got)
		}
	})
}
