package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"ruleta/internal/game"
	"ruleta/internal/game/gametest"
)

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

// startRedis runs a throwaway Redis and returns a connected Service.
func startRedis(t *testing.T) Service {
	t.Helper()
	if os.Getenv("SKIP_INTEGRATION") != "" || (os.Getenv("CI") == "" && !isDockerAvailable()) {
		t.Skip("docker not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}

	srv, err := New(ctx, Options{Addr: endpoint}, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := New(ctx, Options{Addr: "127.0.0.1:1"}, zap.NewNop()); err == nil {
		t.Error("New() expected error for an unreachable server")
	}
}

func TestHealth(t *testing.T) {
	srv := startRedis(t)

	stats := srv.Health()
	if stats["status"] != "up" {
		t.Fatalf("expected status to be up, got %s", stats["status"])
	}
	if stats["message"] != "Redis is healthy" {
		t.Errorf("message = %v, want 'Redis is healthy'", stats["message"])
	}
}

func TestSnapshotRelay_DropsWhenQueueFull(t *testing.T) {
	relay := NewSnapshotRelay(nil, zap.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < relayBuffer*2; i++ {
			relay.BroadcastSnapshot("g1", game.EmptySnapshot())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BroadcastSnapshot() blocked on a full queue")
	}
	if got := len(relay.queue); got != relayBuffer {
		t.Errorf("queued %d snapshots, want %d", got, relayBuffer)
	}
}

func TestSnapshotRelay_PublishAndSubscribe(t *testing.T) {
	srv := startRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := NewSnapshotRelay(srv.GetClient(), zap.NewNop())
	replica := NewSnapshotRelay(srv.GetClient(), zap.NewNop())
	go publisher.Run(ctx)

	if _, ok, err := replica.Latest(ctx, "g1"); err != nil || ok {
		t.Fatalf("Latest() before publish = %v, %v; want nothing", ok, err)
	}

	recorder := &gametest.Recorder{}
	if err := replica.Subscribe(ctx, "g1", recorder); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	id := "round-1"
	n := 17
	publisher.BroadcastSnapshot("g1", game.Snapshot{RoundID: &id, Phase: game.PhaseResolved, SecondsRemaining: 4, WinningNumber: &n})
	publisher.BroadcastSnapshot("other", game.EmptySnapshot())

	deadline := time.Now().Add(5 * time.Second)
	for len(recorder.Snapshots()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	got := recorder.Snapshots()
	if len(got) != 1 {
		t.Fatalf("received %d snapshots, want 1", len(got))
	}
	if got[0].Phase != game.PhaseResolved || got[0].WinningNumber == nil || *got[0].WinningNumber != 17 {
		t.Errorf("received %+v", got[0])
	}

	latest, ok, err := replica.Latest(ctx, "g1")
	if err != nil || !ok {
		t.Fatalf("Latest() = %v, %v", ok, err)
	}
	if *latest.RoundID != "round-1" || latest.SecondsRemaining != 4 {
		t.Errorf("Latest() = %+v", latest)
	}

	ttl, err := srv.GetClient().TTL(ctx, SnapshotKey("g1")).Result()
	if err != nil || ttl <= 0 || ttl > snapshotTTL {
		t.Errorf("snapshot TTL = %v, %v", ttl, err)
	}
}
