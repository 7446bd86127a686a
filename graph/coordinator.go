// Package graph coordinates concurrent, transactional access to a shared
// object graph.
//
// A Coordinator owns three kinds of context. Master holds the committed state
// and is the only context that talks to the durable store. Main is a
// read-only copy served on the main loop and refreshed by merges after every
// commit. Each transaction gets a fresh transaction context that exists only
// while its operation runs.
//
// Every operation takes the *Thread it runs on. Background handles come from
// NewThread; the main-loop handle is passed to closures given to OnMain.
//
//	coord := graph.New(model, graph.WithLogger(log))
//	if err := coord.Initialize(ctx, st); err != nil {
//	    return err
//	}
//	defer coord.Shutdown(ctx)
//
//	th := coord.NewThread()
//	err := coord.TransactAndWait(th, func(th *graph.Thread) error {
//	    item := coord.Create(th, "Item", false)
//	    item.SetValue(th, "name", "first")
//	    return nil
//	})
//
// Misuse (wrong thread, missing context, writes on the main thread) panics
// with a *Violation. Failures of the store are returned as errors.
package graph

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/strata/config"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/schema"
	"github.com/teranos/strata/store"
)

const (
	stateCreated int32 = iota
	stateRunning
	stateDraining
	stateStopped
)

type options struct {
	logger        *zap.SugaredLogger
	workers       int
	mainQueueSize int
	defaultSerial bool
}

// Option configures a Coordinator
type Option func(*options)

// WithLogger sets the logger; the coordinator logs under the "graph" name.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithWorkers sets the parallel pool size. 0 runs each parallel transaction
// on its own goroutine.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithMainQueueSize sets how many closures the main loop buffers.
func WithMainQueueSize(n int) Option {
	return func(o *options) { o.mainQueueSize = n }
}

// WithDefaultSerial sets the scheduling mode of transactions that do not choose one.
func WithDefaultSerial(serial bool) Option {
	return func(o *options) { o.defaultSerial = serial }
}

// WithConfig applies the transactions and main sections of a loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.workers = cfg.Transactions.Workers
		o.mainQueueSize = cfg.Main.QueueSize
		o.defaultSerial = cfg.Transactions.DefaultSerial
	}
}

// Coordinator is the process-scoped owner of the context tree, the thread
// affinity registry and transaction scheduling.
type Coordinator struct {
	model  *schema.Model
	opts   options
	logger *zap.SugaredLogger

	state         atomic.Int32
	defaultSerial atomic.Bool

	store    store.Store
	master   *Context
	main     *Context
	registry *affinityRegistry
	loop     *mainLoop
	pool     *workerPool
	serial   *SerialQueue

	observerMu sync.RWMutex
	observers  []MainObserver

	seq    atomic.Uint64
	ctxSeq atomic.Uint64
	txSeq  atomic.Uint64

	// masterSeq counts saves into Master, guarded by master.mu. mainSeq and
	// heldMerges belong to the main loop.
	masterSeq  uint64
	mainSeq    uint64
	heldMerges map[uint64]store.ChangeSet

	inflight sync.WaitGroup
}

// New creates a coordinator for model. Call Initialize before anything else.
func New(model *schema.Model, opts ...Option) *Coordinator {
	o := options{
		logger:        logger.Logger,
		workers:       config.DefaultWorkers,
		mainQueueSize: config.DefaultMainQueueSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Coordinator{
		model:      model,
		opts:       o,
		logger:     o.logger.Named("graph"),
		heldMerges: make(map[uint64]store.ChangeSet),
	}
	c.defaultSerial.Store(o.defaultSerial)
	c.serial = c.NewSerialQueue("default")
	return c
}

// Initialize loads the store into Master, builds Main from it and starts the
// main loop and the worker pool. It must be called exactly once.
func (c *Coordinator) Initialize(ctx context.Context, st store.Store) error {
	if !c.state.CompareAndSwap(stateCreated, stateRunning) {
		violate(ViolationLifecycle, "Initialize called more than once")
	}

	records, err := st.Load(ctx)
	if err != nil {
		c.state.Store(stateCreated)
		return errors.WrapStoreOpen(err, "load store")
	}

	c.store = st
	c.master = newContext(c, KindMaster, nil)
	c.main = newContext(c, KindMain, c.master)
	c.registry = newAffinityRegistry(c.main)

	for _, rec := range records {
		o, err := c.decodeRecord(rec)
		if err != nil {
			c.state.Store(stateCreated)
			return errors.WrapStoreOpen(err, "load store")
		}
		if o == nil {
			continue
		}
		o.owner = c.master
		c.master.objects[o.id] = o
	}
	for _, mo := range c.master.objects {
		c.main.objects[mo.id] = c.objectFromRecord(mo.record(), mo.seq, c.main)
	}

	c.loop = newMainLoop(c.opts.mainQueueSize, c.logger)
	c.loop.start()
	c.pool = newWorkerPool(c.opts.workers, c.logger)
	c.pool.start()

	logger.LoggerFromContext(ctx, c.logger).Infow("Coordinator initialized",
		logger.FieldCount, len(c.master.objects),
		logger.FieldWorkers, c.opts.workers,
		"default_serial", c.defaultSerial.Load(),
	)
	return nil
}

// Shutdown stops accepting transactions, waits for running ones, drains the
// main loop and stops the pool. The store is left open for its owner to close.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateRunning, stateDraining) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "waiting for running transactions")
		c.logger.Warnw("Shutdown before transactions finished", logger.FieldError, err)
	}

	c.pool.stop()
	c.loop.stop()
	c.state.Store(stateStopped)
	c.logger.Infow("Coordinator stopped")
	return err
}

// Model returns the entity model.
func (c *Coordinator) Model() *schema.Model {
	return c.model
}

// MainContext returns the singleton Main context.
func (c *Coordinator) MainContext() *Context {
	c.mustBeLive()
	return c.main
}

// NewThread returns a background thread handle for the calling goroutine.
func (c *Coordinator) NewThread() *Thread {
	c.mustBeLive()
	return newThread(false)
}

// SetDefaultSerial changes the scheduling mode of transactions that do not choose one.
func (c *Coordinator) SetDefaultSerial(serial bool) {
	c.defaultSerial.Store(serial)
	c.logger.Infow("Default scheduling changed", logger.FieldMode, modeName(serial))
}

// DefaultSerial reports the current default scheduling mode.
func (c *Coordinator) DefaultSerial() bool {
	return c.defaultSerial.Load()
}

// AttachedContext returns the context th may touch: Main for the main
// thread, the bound transaction context or nil otherwise.
func (c *Coordinator) AttachedContext(th *Thread) *Context {
	c.mustBeLive()
	th.assertCurrent()
	return c.registry.attached(th)
}

// Attach binds ctx to th. Attaching on the main thread is a violation.
func (c *Coordinator) Attach(th *Thread, ctx *Context) {
	c.mustBeLive()
	th.assertCurrent()
	if ctx != nil && ctx.kind != KindTransaction {
		violate(ViolationOwnership, "only transaction contexts can be attached, got %s", ctx.kind)
	}
	c.registry.attach(th, ctx)
}

// Detach clears th's binding.
func (c *Coordinator) Detach(th *Thread) {
	c.mustBeLive()
	th.assertCurrent()
	c.registry.detach(th)
}

// NoImplicitCommit reports whether th's running transaction skips its commit.
func (c *Coordinator) NoImplicitCommit(th *Thread) bool {
	c.mustBeLive()
	th.assertCurrent()
	return c.registry.noImplicitCommit(th)
}

// SetNoImplicitCommit sets th's commit-suppression flag.
func (c *Coordinator) SetNoImplicitCommit(th *Thread, v bool) {
	c.mustBeLive()
	th.assertCurrent()
	c.registry.setNoImplicitCommit(th, v)
}

func (c *Coordinator) mustBeLive() {
	switch c.state.Load() {
	case stateRunning, stateDraining:
		return
	case stateCreated:
		violate(ViolationUninitialized, "coordinator used before Initialize")
	default:
		violate(ViolationUninitialized, "coordinator used after Shutdown")
	}
}

func (c *Coordinator) newObjectID() string {
	return uuid.NewString()
}

// objectFromRecord builds an object owned by ctx; unknown entities yield nil
func (c *Coordinator) objectFromRecord(rec store.Record, seq uint64, ctx *Context) *Object {
	ent, ok := c.model.Entity(rec.Entity)
	if !ok {
		return nil
	}
	o := &Object{
		coord:  c,
		id:     rec.ID,
		entity: ent,
		seq:    seq,
		owner:  ctx,
	}
	o.load(rec)
	return o
}

// decodeRecord converts a stored record into a Master object, coercing
// attribute values by schema type. Attributes the model no longer has are dropped.
func (c *Coordinator) decodeRecord(rec store.Record) (*Object, error) {
	ent, ok := c.model.Entity(rec.Entity)
	if !ok {
		c.logger.Warnw("Skipping object of unknown entity",
			logger.FieldObjectID, rec.ID,
			logger.FieldEntity, rec.Entity,
		)
		return nil, nil
	}

	attrs := ent.Defaults()
	for k, v := range rec.Attrs {
		attr, ok := ent.Attribute(k)
		if !ok {
			continue
		}
		cv, err := attr.Coerce(v)
		if err != nil {
			return nil, errors.Wrapf(err, "object %s", rec.ID)
		}
		attrs[k] = cv
	}
	rels := make(map[string][]string, len(rec.Relations))
	for k, ids := range rec.Relations {
		if _, ok := ent.Relationship(k); ok && len(ids) > 0 {
			rels[k] = append([]string(nil), ids...)
		}
	}

	return &Object{
		coord:  c,
		id:     rec.ID,
		entity: ent,
		seq:    c.seq.Add(1),
		attrs:  attrs,
		rels:   rels,
	}, nil
}

func modeName(serial bool) string {
	if serial {
		return "serial"
	}
	return "parallel"
}

// since reports elapsed milliseconds for log fields
func since(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
