package daemon

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp is what happened to a database file.
type EventOp int

const (
	OpCreate EventOp = iota
	OpModify
	// OpDelete covers removal and renaming away, as SQLite does with
	// journal files.
	OpDelete
)

var opNames = [...]string{OpCreate: "create", OpModify: "modify", OpDelete: "delete"}

func (op EventOp) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return "unknown"
	}
	return opNames[op]
}

// FileEvent is a change to the local database or one of its side files
// (-wal, -shm, -journal).
type FileEvent struct {
	Path string
	Op   EventOp
}

// FileWatcher reports writes to the local database made by any process.
type FileWatcher struct {
	fs     *fsnotify.Watcher
	base   string
	dir    string
	events chan FileEvent
	errors chan error
	quit   chan struct{}
	loop   sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewFileWatcher returns an idle watcher for the database file named base.
func NewFileWatcher(base string) (*FileWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &FileWatcher{
		fs:     fs,
		base:   base,
		events: make(chan FileEvent, 100),
		errors: make(chan error, 10),
		quit:   make(chan struct{}),
	}, nil
}

// Start watches dir, the directory holding the database. Watching the
// directory catches side files SQLite creates after startup.
func (fw *FileWatcher) Start(dir string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.running {
		return errors.New("watcher already running")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := fw.fs.Add(abs); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	fw.dir = abs
	fw.running = true

	fw.loop.Add(1)
	go fw.run()
	return nil
}

// Stop ends the watch. Events and Errors are closed once it returns.
// Calling Stop on an idle watcher does nothing.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	wasRunning := fw.running
	fw.running = false
	fw.mu.Unlock()
	if !wasRunning {
		return nil
	}

	close(fw.quit)
	closeErr := fw.fs.Close()
	fw.loop.Wait()
	close(fw.events)
	close(fw.errors)

	if closeErr != nil {
		return fmt.Errorf("failed to close watcher: %w", closeErr)
	}
	return nil
}

// Events delivers changes to the database files.
func (fw *FileWatcher) Events() <-chan FileEvent { return fw.events }

// Errors delivers failures reported by fsnotify.
func (fw *FileWatcher) Errors() <-chan error { return fw.errors }

// IsRunning reports whether Start succeeded and Stop has not been called.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) run() {
	defer fw.loop.Done()
	for {
		select {
		case <-fw.quit:
			return
		case ev, ok := <-fw.fs.Events:
			if !ok {
				return
			}
			fe, keep := fw.classify(ev)
			if keep && !send(fw.events, fe, fw.quit) {
				return
			}
		case err, ok := <-fw.fs.Errors:
			if !ok || !send(fw.errors, err, fw.quit) {
				return
			}
		}
	}
}

// send delivers v unless quit closes first.
func send[T any](ch chan<- T, v T, quit <-chan struct{}) bool {
	select {
	case ch <- v:
		return true
	case <-quit:
		return false
	}
}

// classify drops events for other files in the directory and chmod-only
// events.
func (fw *FileWatcher) classify(ev fsnotify.Event) (FileEvent, bool) {
	if filepath.Dir(ev.Name) != fw.dir || !strings.HasPrefix(filepath.Base(ev.Name), fw.base) {
		return FileEvent{}, false
	}

	fe := FileEvent{Path: ev.Name}
	switch {
	case ev.Has(fsnotify.Create):
		fe.Op = OpCreate
	case ev.Has(fsnotify.Write):
		fe.Op = OpModify
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		fe.Op = OpDelete
	default:
		return FileEvent{}, false
	}
	return fe, true
}
