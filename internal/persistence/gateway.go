// Package persistence mirrors session state to a durable store on a best-effort basis.
// The in-memory registry stays authoritative: write failures are logged, never returned.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// CollectionSessions holds the live mirror of each session, keyed by session id.
	CollectionSessions = "remote_sessions"
	// CollectionHistory holds immutable copies of ended sessions.
	CollectionHistory = "session_history"

	defaultWorkers   = 4
	defaultQueueSize = 256
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrTransient = errors.New("transient persistence failure")
)

// Store is the document store behind the gateway.
type Store interface {
	Upsert(ctx context.Context, collection, id string, doc []byte) error
	Append(ctx context.Context, collection, id string, doc []byte) error
	Get(ctx context.Context, collection, id string) ([]byte, error)
}

// HistoryExporter receives every appended history document after it was stored (e.g. to queue an S3 archive).
type HistoryExporter interface {
	ExportHistory(ctx context.Context, collection, id string, doc []byte) error
}

// ExporterFunc adapts a function to HistoryExporter.
type ExporterFunc func(ctx context.Context, collection, id string, doc []byte) error

// ExportHistory calls f.
func (f ExporterFunc) ExportHistory(ctx context.Context, collection, id string, doc []byte) error {
	return f(ctx, collection, id, doc)
}

type writeKind int

const (
	writeUpsert writeKind = iota
	writeAppend
)

type writeJob struct {
	kind       writeKind
	collection string
	id         string
	doc        []byte
}

// Gateway issues fire-and-forget writes. Writes for the same id are applied in submission
// order (one worker shard per id); different ids proceed in parallel.
type Gateway struct {
	store    Store
	exporter HistoryExporter
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.RWMutex
	shards []chan writeJob
	closed bool
	wg     sync.WaitGroup
}

// NewGateway creates a gateway and starts its write workers.
func NewGateway(store Store, timeout time.Duration, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	g := &Gateway{
		store:   store,
		timeout: timeout,
		logger:  logger,
		shards:  make([]chan writeJob, defaultWorkers),
	}
	for i := range g.shards {
		ch := make(chan writeJob, defaultQueueSize)
		g.shards[i] = ch
		g.wg.Add(1)
		go g.run(ch)
	}
	return g
}

// SetHistoryExporter sets the callback invoked after each successful history append.
func (g *Gateway) SetHistoryExporter(e HistoryExporter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exporter = e
}

// TryPersist upserts doc into collection under id. It never blocks on the store.
func (g *Gateway) TryPersist(collection, id string, doc any) {
	g.submit(writeUpsert, collection, id, doc)
}

// TryAppend appends doc to an immutable history collection. It never blocks on the store.
func (g *Gateway) TryAppend(collection, id string, doc any) {
	g.submit(writeAppend, collection, id, doc)
}

// Load reads a document into dst. It reports false when no document exists.
func (g *Gateway) Load(ctx context.Context, collection, id string, dst any) (bool, error) {
	if g.store == nil {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	raw, err := g.store.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: get %s/%s: %v", ErrTransient, collection, id, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return true, nil
}

// Close stops accepting writes and waits for queued ones to finish.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	for _, ch := range g.shards {
		close(ch)
	}
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *Gateway) submit(kind writeKind, collection, id string, doc any) {
	if g.store == nil {
		return
	}
	body, err := json.Marshal(doc)
	if err != nil {
		g.logger.Error("persist: marshal document", zap.String("collection", collection), zap.String("id", id), zap.Error(err))
		return
	}
	job := writeJob{kind: kind, collection: collection, id: id, doc: body}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		g.logger.Warn("persist: gateway closed, dropping write", zap.String("collection", collection), zap.String("id", id))
		return
	}
	select {
	case g.shards[shardFor(id, len(g.shards))] <- job:
	default:
		g.logger.Warn("persist: queue full, dropping write", zap.String("collection", collection), zap.String("id", id))
	}
}

func (g *Gateway) run(jobs <-chan writeJob) {
	defer g.wg.Done()
	for job := range jobs {
		if err := g.apply(job); err != nil {
			g.logger.Warn("persist: write failed",
				zap.String("collection", job.collection),
				zap.String("id", job.id),
				zap.Error(fmt.Errorf("%w: %v", ErrTransient, err)),
			)
		}
	}
}

func (g *Gateway) apply(job writeJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	switch job.kind {
	case writeUpsert:
		return g.store.Upsert(ctx, job.collection, job.id, job.doc)
	case writeAppend:
		if err := g.store.Append(ctx, job.collection, job.id, job.doc); err != nil {
			return err
		}
		g.mu.RLock()
		exporter := g.exporter
		g.mu.RUnlock()
		if exporter != nil {
			if err := exporter.ExportHistory(ctx, job.collection, job.id, job.doc); err != nil {
				return fmt.Errorf("export history: %w", err)
			}
		}
		return nil
	}
	return nil
}

func shardFor(id string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(n))
}
