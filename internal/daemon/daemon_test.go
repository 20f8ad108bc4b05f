package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/local"
	"github.com/khaledrefaat/TaskSimple/internal/notify"
	"github.com/khaledrefaat/TaskSimple/internal/reconcile"
)

type fakeSyncer struct {
	reconciles atomic.Int32
	pulls      atomic.Int32
	err        atomic.Value // error
}

func (f *fakeSyncer) ReconcileOnReconnect(ctx context.Context, sess reconcile.Session) (*reconcile.ReconcileResult, error) {
	f.reconciles.Add(1)
	if err, _ := f.err.Load().(error); err != nil {
		return nil, err
	}
	return &reconcile.ReconcileResult{Pull: &reconcile.PullResult{}}, nil
}

func (f *fakeSyncer) Pull(ctx context.Context, sess reconcile.Session) (*reconcile.PullResult, error) {
	f.pulls.Add(1)
	return &reconcile.PullResult{}, nil
}

type fakeProber struct {
	up atomic.Bool
}

func (f *fakeProber) Health(ctx context.Context) error {
	if f.up.Load() {
		return nil
	}
	return errs.ErrSyncUnavailable
}

type fakeOutbox struct {
	n atomic.Int32
}

func (f *fakeOutbox) PendingCount(ctx context.Context) (int, error) {
	return int(f.n.Load()), nil
}

func testSession() (reconcile.Session, error) {
	return reconcile.Session{UserID: "u1", Token: "tok"}, nil
}

func testConfig() *Config {
	return &Config{
		SyncInterval:     time.Hour,
		ProbeInterval:    20 * time.Millisecond,
		DebounceInterval: 20 * time.Millisecond,
		RetryInterval:    20 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

// runDaemon starts d in the background and stops it at test end.
func runDaemon(t *testing.T, d *Daemon) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start() returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew(t *testing.T) {
	syncer, prober := &fakeSyncer{}, &fakeProber{}

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{Syncer: syncer, Prober: prober, Session: testSession}, false},
		{"no syncer", Options{Prober: prober, Session: testSession}, true},
		{"no prober", Options{Syncer: syncer, Session: testSession}, true},
		{"no session", Options{Syncer: syncer, Prober: prober}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts, testConfig())
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDaemon_ReconcilesOnReconnect(t *testing.T) {
	syncer, prober := &fakeSyncer{}, &fakeProber{}
	d, err := New(Options{Syncer: syncer, Prober: prober, Session: testSession}, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	runDaemon(t, d)

	time.Sleep(60 * time.Millisecond)
	if d.Online() {
		t.Fatal("daemon reports online while the server is down")
	}
	if n := syncer.reconciles.Load(); n != 0 {
		t.Fatalf("reconciled %d times while offline", n)
	}

	prober.up.Store(true)
	waitFor(t, "reconcile after reconnect", func() bool { return syncer.reconciles.Load() == 1 })
	if !d.Online() {
		t.Error("daemon should report online")
	}

	// Staying online does not reconcile again before SyncInterval.
	time.Sleep(60 * time.Millisecond)
	if n := syncer.reconciles.Load(); n != 1 {
		t.Errorf("reconciles = %d, want 1", n)
	}
}

func TestDaemon_OfflineErrorMarksOffline(t *testing.T) {
	syncer, prober := &fakeSyncer{}, &fakeProber{}
	syncer.err.Store(errs.ErrSyncUnavailable)
	prober.up.Store(true)

	cfg := testConfig()
	cfg.ProbeInterval = time.Hour
	d, err := New(Options{Syncer: syncer, Prober: prober, Session: testSession}, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	runDaemon(t, d)

	waitFor(t, "reconcile attempt", func() bool { return syncer.reconciles.Load() >= 1 })
	waitFor(t, "offline state", func() bool { return !d.Online() })
}

func TestDaemon_NoticesTriggerPull(t *testing.T) {
	syncer, prober := &fakeSyncer{}, &fakeProber{}
	prober.up.Store(true)

	var mu sync.Mutex
	var tokens []string
	subscribe := func(ctx context.Context, token string, fn func(notify.Message)) error {
		mu.Lock()
		tokens = append(tokens, token)
		mu.Unlock()
		fn(notify.Message{Type: notify.MessageTypeChanged})
		<-ctx.Done()
		return ctx.Err()
	}

	d, err := New(Options{Syncer: syncer, Prober: prober, Session: testSession, Subscribe: subscribe}, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	runDaemon(t, d)

	waitFor(t, "pull after notice", func() bool { return syncer.pulls.Load() >= 1 })

	mu.Lock()
	defer mu.Unlock()
	if len(tokens) != 1 || tokens[0] != "tok" {
		t.Errorf("subscribed with %v, want [tok]", tokens)
	}
}

func TestDaemon_SubscribeRetries(t *testing.T) {
	syncer, prober := &fakeSyncer{}, &fakeProber{}
	prober.up.Store(true)

	var attempts atomic.Int32
	subscribe := func(ctx context.Context, token string, fn func(notify.Message)) error {
		attempts.Add(1)
		return errors.New("connection reset")
	}

	d, err := New(Options{Syncer: syncer, Prober: prober, Session: testSession, Subscribe: subscribe}, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	runDaemon(t, d)

	waitFor(t, "reconnect attempts", func() bool { return attempts.Load() >= 3 })
}

func TestDaemon_PushesChangesFromOtherProcesses(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, local.DatabaseName)
	if err := os.WriteFile(dbPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	syncer, prober, outbox := &fakeSyncer{}, &fakeProber{}, &fakeOutbox{}
	prober.up.Store(true)

	d, err := New(Options{Syncer: syncer, Prober: prober, Outbox: outbox, Session: testSession, DataDir: dir}, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	runDaemon(t, d)

	waitFor(t, "initial reconcile", func() bool { return syncer.reconciles.Load() == 1 })

	// A write that leaves the outbox empty is ignored.
	if err := os.WriteFile(dbPath, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if n := syncer.reconciles.Load(); n != 1 {
		t.Fatalf("reconciles = %d after write with empty outbox, want 1", n)
	}

	outbox.n.Store(2)
	if err := os.WriteFile(dbPath+"-wal", []byte("z"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "reconcile after queued change", func() bool { return syncer.reconciles.Load() == 2 })
}
