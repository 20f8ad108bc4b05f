// Package daemon keeps a client's local mirror in step with the server
// while it runs.
//
// The daemon:
//  1. Probes the server and reconciles when it comes back online
//  2. Reconciles periodically while online
//  3. Watches the local database so changes queued by other processes are
//     pushed promptly
//  4. Listens for change notices and pulls when another client writes
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/local"
	"github.com/khaledrefaat/TaskSimple/internal/notify"
	"github.com/khaledrefaat/TaskSimple/internal/reconcile"
)

// Syncer is the part of the reconciler the daemon drives.
type Syncer interface {
	ReconcileOnReconnect(ctx context.Context, sess reconcile.Session) (*reconcile.ReconcileResult, error)
	Pull(ctx context.Context, sess reconcile.Session) (*reconcile.PullResult, error)
}

// Prober checks server reachability.
type Prober interface {
	Health(ctx context.Context) error
}

// Outbox reports how many local changes wait to be pushed.
type Outbox interface {
	PendingCount(ctx context.Context) (int, error)
}

// SubscribeFunc streams change notices for token until ctx is done or the
// connection drops.
type SubscribeFunc func(ctx context.Context, token string, fn func(notify.Message)) error

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to reconcile while online.
	SyncInterval time.Duration

	// ProbeInterval is how often to check connectivity.
	ProbeInterval time.Duration

	// DebounceInterval is how long database writes must settle before
	// queued changes are pushed.
	DebounceInterval time.Duration

	// RetryInterval is the wait before reconnecting the notice stream.
	RetryInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     30 * time.Second,
		ProbeInterval:    5 * time.Second,
		DebounceInterval: 250 * time.Millisecond,
		RetryInterval:    5 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Options are the daemon's collaborators.
type Options struct {
	Syncer  Syncer
	Prober  Prober
	Outbox  Outbox
	Session func() (reconcile.Session, error)

	// Subscribe is optional; without it the daemon only polls.
	Subscribe SubscribeFunc

	// DataDir holds the local database. Empty disables watching.
	DataDir string
}

// Daemon orchestrates connectivity probing, reconciliation and change
// notices.
type Daemon struct {
	opts   Options
	config *Config

	watcher *FileWatcher

	online   bool
	onlineMu sync.RWMutex
	wake     chan struct{} // signalled on offline -> online

	changedAt   time.Time
	changedAtMu sync.Mutex

	reconcileCh chan struct{}
	pullCh      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. Use Start to run it.
func New(opts Options, config *Config) (*Daemon, error) {
	if opts.Syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if opts.Prober == nil {
		return nil, fmt.Errorf("prober cannot be nil")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("session source cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = defaults.SyncInterval
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = defaults.ProbeInterval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = defaults.RetryInterval
	}

	d := &Daemon{
		opts:        opts,
		config:      config,
		wake:        make(chan struct{}, 1),
		reconcileCh: make(chan struct{}, 1),
		pullCh:      make(chan struct{}, 1),
	}

	if opts.DataDir != "" && opts.Outbox != nil {
		w, err := NewFileWatcher(local.DatabaseName)
		if err != nil {
			return nil, err
		}
		d.watcher = w
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start runs the daemon. It blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.watcher != nil {
		if err := d.watcher.Start(d.opts.DataDir); err != nil {
			return fmt.Errorf("failed to watch data directory: %w", err)
		}
		d.config.Logger.Printf("Watching: %s", d.opts.DataDir)

		d.wg.Add(2)
		go d.watchDatabase()
		go d.processChanges()
	}

	d.wg.Add(3)
	go d.worker()
	go d.probeLoop()
	go d.syncLoop()

	if d.opts.Subscribe != nil {
		d.wg.Add(1)
		go d.subscribeLoop()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Online reports the result of the last connectivity probe.
func (d *Daemon) Online() bool {
	d.onlineMu.RLock()
	defer d.onlineMu.RUnlock()
	return d.online
}

// setOnline records connectivity and reconciles on the offline -> online
// transition.
func (d *Daemon) setOnline(online bool) {
	d.onlineMu.Lock()
	was := d.online
	d.online = online
	d.onlineMu.Unlock()

	switch {
	case online && !was:
		d.config.Logger.Println("Server reachable, reconciling")
		signal(d.wake)
		d.requestReconcile()
	case !online && was:
		d.config.Logger.Println("Server unreachable, changes will be queued")
	}
}

func (d *Daemon) requestReconcile() { signal(d.reconcileCh) }
func (d *Daemon) requestPull()      { signal(d.pullCh) }

// signal does a non-blocking send; a pending signal already covers this one.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// worker runs reconciliations one at a time.
func (d *Daemon) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.reconcileCh:
			d.reconcile()
		case <-d.pullCh:
			d.pull()
		}
	}
}

func (d *Daemon) reconcile() {
	sess, err := d.opts.Session()
	if err != nil {
		d.config.Logger.Printf("Not reconciling: %v", err)
		return
	}

	res, err := d.opts.Syncer.ReconcileOnReconnect(d.ctx, sess)
	if err != nil {
		d.handleSyncError("Reconcile", err)
		return
	}
	if res.Replayed > 0 || res.Conflicts > 0 || res.Dropped > 0 || (res.Pull != nil && res.Pull.Writes() > 0) {
		writes := 0
		if res.Pull != nil {
			writes = res.Pull.Writes()
		}
		d.config.Logger.Printf("Reconciled: %d replayed, %d conflicts, %d dropped, %d pulled, %d pending",
			res.Replayed, res.Conflicts, res.Dropped, writes, res.Remaining)
	}
}

func (d *Daemon) pull() {
	sess, err := d.opts.Session()
	if err != nil {
		d.config.Logger.Printf("Not pulling: %v", err)
		return
	}

	res, err := d.opts.Syncer.Pull(d.ctx, sess)
	if err != nil {
		d.handleSyncError("Pull", err)
		return
	}
	if res.Writes() > 0 {
		d.config.Logger.Printf("Pulled: %d inserted, %d updated, %d deleted", res.Inserted, res.Updated, res.Deleted)
	}
}

func (d *Daemon) handleSyncError(what string, err error) {
	switch {
	case errors.Is(err, context.Canceled):
	case errs.IsOffline(err):
		d.setOnline(false)
	case errs.IsFatal(err):
		d.config.Logger.Printf("%s: session rejected, sign in again", what)
	default:
		d.config.Logger.Printf("%s failed: %v", what, err)
	}
}

// probeLoop checks connectivity now and then every ProbeInterval.
func (d *Daemon) probeLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ProbeInterval)
	defer ticker.Stop()

	for {
		ctx, cancel := context.WithTimeout(d.ctx, d.config.ProbeInterval)
		err := d.opts.Prober.Health(ctx)
		cancel()
		if d.ctx.Err() != nil {
			return
		}
		d.setOnline(err == nil)

		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// syncLoop reconciles every SyncInterval while online.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if d.Online() {
				d.requestReconcile()
			}
		}
	}
}

// watchDatabase records database writes for processChanges.
func (d *Daemon) watchDatabase() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case _, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.changedAtMu.Lock()
			d.changedAt = time.Now()
			d.changedAtMu.Unlock()

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// processChanges pushes queued changes once database writes settle. Writes
// that leave the outbox empty, such as the daemon's own pulls, are ignored.
func (d *Daemon) processChanges() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.changedAtMu.Lock()
			settled := !d.changedAt.IsZero() && time.Since(d.changedAt) >= d.config.DebounceInterval
			if settled {
				d.changedAt = time.Time{}
			}
			d.changedAtMu.Unlock()

			if !settled || !d.Online() {
				continue
			}
			n, err := d.opts.Outbox.PendingCount(d.ctx)
			if err != nil {
				d.config.Logger.Printf("Error reading outbox: %v", err)
				continue
			}
			if n > 0 {
				d.requestReconcile()
			}
		}
	}
}

// subscribeLoop keeps a notice stream open while online. Every notice,
// including the greeting after a reconnect, triggers a pull.
func (d *Daemon) subscribeLoop() {
	defer d.wg.Done()

	for {
		if !d.Online() {
			select {
			case <-d.ctx.Done():
				return
			case <-d.wake:
			case <-time.After(d.config.RetryInterval):
			}
			continue
		}

		sess, err := d.opts.Session()
		if err == nil {
			err = d.opts.Subscribe(d.ctx, sess.Token, func(m notify.Message) {
				switch m.Type {
				case notify.MessageTypeHello, notify.MessageTypeChanged:
					d.requestPull()
				}
			})
		}
		if d.ctx.Err() != nil {
			return
		}
		if err != nil && !errs.IsOffline(err) {
			d.config.Logger.Printf("Notice stream: %v", err)
		}

		select {
		case <-d.ctx.Done():
			return
		case <-time.After(d.config.RetryInterval):
		}
	}
}
