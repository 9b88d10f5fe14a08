package governor

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/mailmirror/mailmirror/internal/logger"
)

// ExitRecord is posted by every worker when it finishes, whatever the
// outcome. The monitor loop consumes these and decides what a finished
// worker means for the process.
type ExitRecord struct {
	Name    string
	Message string
	Err     error
}

// Worker is a handle for joining on a single submitted job.
type Worker struct {
	done chan struct{}
}

// Wait blocks until the worker has finished and posted its exit record.
func (w *Worker) Wait() {
	<-w.done
}

// Governor owns the named instance limits. A limit is a bounded slot
// pool; submitting into a full pool blocks the submitter until a slot
// frees up. Creation of a limit is idempotent per name.
type Governor struct {
	log logger.Logger

	mu     sync.Mutex
	limits map[string]chan struct{}

	exits chan ExitRecord
}

func New(log logger.Logger) *Governor {
	return &Governor{
		log:    log,
		limits: make(map[string]chan struct{}),
		exits:  make(chan ExitRecord, 64),
	}
}

// InitLimit registers a named limit of size n. Re-registering an
// existing name is a no-op.
func (g *Governor) InitLimit(name string, n int) {
	if n < 1 {
		n = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.limits[name]; exists {
		return
	}
	g.limits[name] = make(chan struct{}, n)
}

// LimitSize returns the registered size of a limit, 0 if unknown.
func (g *Governor) LimitSize(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if slots, exists := g.limits[name]; exists {
		return cap(slots)
	}
	return 0
}

// Go starts an unlimited worker. The message travels with the exit
// record so the monitor loop can recognize sentinel exits.
func (g *Governor) Go(name, message string, fn func() error) *Worker {
	w := &Worker{done: make(chan struct{})}
	go g.run(w, nil, name, message, fn)
	return w
}

// GoLimited starts a worker under the named limit, blocking the caller
// while the pool is full.
func (g *Governor) GoLimited(limit, name string, fn func() error) (*Worker, error) {
	g.mu.Lock()
	slots, exists := g.limits[limit]
	g.mu.Unlock()
	if !exists {
		return nil, errors.Errorf("unknown instance limit %q", limit)
	}

	slots <- struct{}{}
	w := &Worker{done: make(chan struct{})}
	go g.run(w, slots, name, "", fn)
	return w, nil
}

func (g *Governor) run(w *Worker, slots chan struct{}, name, message string, fn func() error) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("worker panic: %v", r)
		}
		if slots != nil {
			<-slots
		}
		g.exits <- ExitRecord{Name: name, Message: message, Err: err}
		close(w.done)
	}()
	err = fn()
}

// MonitorLoop consumes exit notifications on the main goroutine, handing
// each to the termination handler. It returns when the handler asks the
// process to stop by returning a non-nil error; normal worker exits keep
// the loop running.
func (g *Governor) MonitorLoop(handler func(ExitRecord) error) error {
	for rec := range g.exits {
		if err := handler(rec); err != nil {
			return err
		}
	}
	return nil
}
