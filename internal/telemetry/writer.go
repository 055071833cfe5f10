package telemetry

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// Row is one pending insert: column name to value. Values must already
// be scalars or serialized JSON text.
type Row map[string]any

// WriterOptions tune the background flush loop.
type WriterOptions struct {
	BatchSize  int
	FlushEvery time.Duration
	QueueDepth int
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.FlushEvery <= 0 {
		o.FlushEvery = time.Second
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = o.BatchSize * 10
		if o.QueueDepth < 100 {
			o.QueueDepth = 100
		}
	}
	return o
}

// Writer drains queued rows into one sink table on a background
// goroutine. The queue is bounded; when full the oldest queued row is
// dropped so the hot path never blocks.
type Writer struct {
	store *Store
	kind  SinkKind
	table string
	opts  WriterOptions

	queue chan Row
	done  chan struct{}
	wg    sync.WaitGroup

	mu           sync.Mutex
	closed       bool
	dropped      int64
	written      int64
	duplicates   int64
	insertCols   []string
	insertColSet map[string]struct{}
}

// NewWriter ensures the sink schema and starts the flush goroutine.
func NewWriter(store *Store, kind SinkKind, table string, opts WriterOptions) (*Writer, error) {
	if err := store.EnsureSink(kind, table); err != nil {
		return nil, err
	}
	existing, err := store.TableColumns(table)
	if err != nil {
		return nil, err
	}
	colSet := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		colSet[name] = struct{}{}
	}
	opts = opts.withDefaults()
	w := &Writer{
		store:        store,
		kind:         kind,
		table:        table,
		opts:         opts,
		queue:        make(chan Row, opts.QueueDepth),
		done:         make(chan struct{}),
		insertColSet: colSet,
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Enqueue queues one row for insert. When the queue is full the oldest
// pending row is discarded to make room. Returns ErrWriterClosed after
// Stop.
func (w *Writer) Enqueue(row Row) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	w.mu.Unlock()
	for {
		select {
		case w.queue <- row:
			return nil
		default:
		}
		select {
		case <-w.queue:
			w.mu.Lock()
			w.dropped++
			w.mu.Unlock()
		default:
		}
	}
}

// Stop closes the queue and blocks until every remaining row is
// flushed.
func (w *Writer) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	close(w.done)
	w.wg.Wait()
}

// Stats reports writer counters.
func (w *Writer) Stats() (written, duplicates, dropped int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written, w.duplicates, w.dropped
}

func (w *Writer) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.FlushEvery)
	defer ticker.Stop()
	batch := make([]Row, 0, w.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flushBatch(batch)
		batch = batch[:0]
	}
	for {
		select {
		case row := <-w.queue:
			batch = append(batch, row)
			if len(batch) >= w.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			for {
				select {
				case row := <-w.queue:
					batch = append(batch, row)
					if len(batch) >= w.opts.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) flushBatch(batch []Row) {
	for _, row := range batch {
		inserted, err := w.insertRow(row)
		if err != nil {
			if IsUniqueViolation(err) {
				w.mu.Lock()
				w.duplicates++
				w.mu.Unlock()
				continue
			}
			log.Printf("telemetry: insert into %s failed: %v", w.table, err)
			continue
		}
		w.mu.Lock()
		if inserted {
			w.written++
		} else {
			w.duplicates++
		}
		w.mu.Unlock()
	}
}

func (w *Writer) insertRow(row Row) (bool, error) {
	// Skip row keys the live table does not carry so older schemas
	// keep accepting writes.
	names := make([]string, 0, len(row))
	for name := range row {
		if _, ok := w.insertColSet[name]; !ok {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return false, fmt.Errorf("telemetry: row has no insertable columns for %s", w.table)
	}
	sort.Strings(names)
	args := make([]any, 0, len(names))
	marks := make([]string, 0, len(names))
	for _, name := range names {
		args = append(args, row[name])
		marks = append(marks, "?")
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		w.table, strings.Join(names, ", "), strings.Join(marks, ", "))
	res, err := w.store.Exec(stmt, args...)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return false, nil
	}
	return true, nil
}
