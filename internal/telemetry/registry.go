package telemetry

import (
	"fmt"
	"sync"
	"time"
)

// SinkConfig names one sink target: backend URI, table, and queue
// tuning. Two configs with the same URI share one Store.
type SinkConfig struct {
	Kind       SinkKind
	URI        string
	Table      string
	BatchSize  int
	FlushEvery time.Duration
	QueueDepth int
}

func (c SinkConfig) key() string {
	return string(c.Kind) + "|" + c.URI + "|" + c.Table
}

// Registry owns the live writers and their shared stores. Callers hold
// a Registry explicitly; there is no process-global instance.
type Registry struct {
	mu      sync.Mutex
	stores  map[string]*Store
	writers map[string]*Writer
	timeout time.Duration
}

// NewRegistry returns an empty registry. The connect timeout applies to
// every store the registry opens.
func NewRegistry(connectTimeout time.Duration) *Registry {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	return &Registry{
		stores:  make(map[string]*Store),
		writers: make(map[string]*Writer),
		timeout: connectTimeout,
	}
}

func (r *Registry) storeLocked(uri string) (*Store, error) {
	if s, ok := r.stores[uri]; ok {
		return s, nil
	}
	s, err := Open(uri, r.timeout)
	if err != nil {
		return nil, err
	}
	r.stores[uri] = s
	return s, nil
}

// Store returns the shared store for a URI, opening it on first use.
func (r *Registry) Store(uri string) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.storeLocked(uri)
}

// Writer returns the writer for a sink config, starting it on first
// use.
func (r *Registry) Writer(c SinkConfig) (*Writer, error) {
	if c.Table == "" {
		return nil, fmt.Errorf("telemetry: sink %q has no table", c.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := c.key()
	if w, ok := r.writers[key]; ok {
		return w, nil
	}
	store, err := r.storeLocked(c.URI)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(store, c.Kind, c.Table, WriterOptions{
		BatchSize:  c.BatchSize,
		FlushEvery: c.FlushEvery,
		QueueDepth: c.QueueDepth,
	})
	if err != nil {
		return nil, err
	}
	r.writers[key] = w
	return w, nil
}

// Reconfigure stops the writer for a sink config so the next Writer
// call rebuilds it with fresh options.
func (r *Registry) Reconfigure(c SinkConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := c.key()
	if w, ok := r.writers[key]; ok {
		w.Stop()
		delete(r.writers, key)
	}
}

// StopAll flushes and stops every writer, then closes every store.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, w := range r.writers {
		w.Stop()
		delete(r.writers, key)
	}
	for uri, s := range r.stores {
		_ = s.Close()
		delete(r.stores, uri)
	}
}
