package graph

import (
	"sync/atomic"
	"time"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/metrics"
)

// Operation is the body of a transaction. Returning an error skips the
// implicit commit and discards the transaction's changes.
type Operation func(th *Thread) error

// TxState is the lifecycle state of a transaction
type TxState int32

const (
	TxIdle TxState = iota
	TxRunning
	TxCommitting
	TxCommitted
	TxCancelled
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxRunning:
		return "running"
	case TxCommitting:
		return "committing"
	case TxCommitted:
		return "committed"
	case TxCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Transaction is one run of an Operation in its own context
type Transaction struct {
	id    uint64
	ctx   *Context
	mode  string
	state atomic.Int32
}

// ID is unique for the life of the coordinator.
func (t *Transaction) ID() uint64 { return t.id }

// Context is the transaction's working copy.
func (t *Transaction) Context() *Context { return t.ctx }

// State is the current lifecycle state.
func (t *Transaction) State() TxState { return TxState(t.state.Load()) }

func (t *Transaction) setState(s TxState) { t.state.Store(int32(s)) }

type txOptions struct {
	serial     *bool
	queue      *SerialQueue
	completion func(error)
}

// TxOption configures one Transact or TransactAndWait call
type TxOption func(*txOptions)

// Serial picks serial or parallel scheduling for this call, overriding the default.
func Serial(serial bool) TxOption {
	return func(o *txOptions) { o.serial = &serial }
}

// On runs the transaction on a private serial queue. Implies Serial(true).
func On(q *SerialQueue) TxOption {
	return func(o *txOptions) { o.queue = q }
}

// Completion is called with the operation or commit error once the
// transaction is over. Only meaningful for Transact.
func Completion(fn func(error)) TxOption {
	return func(o *txOptions) { o.completion = fn }
}

// resolve picks the serial queue for the call, nil for parallel
func (c *Coordinator) resolve(opts []TxOption) (*SerialQueue, func(error)) {
	var o txOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.queue != nil {
		return o.queue, o.completion
	}
	serial := c.defaultSerial.Load()
	if o.serial != nil {
		serial = *o.serial
	}
	if serial {
		return c.serial, o.completion
	}
	return nil, o.completion
}

// Transact schedules op and returns immediately. Serial transactions take
// their place in the queue now, so they run in the order Transact was called.
func (c *Coordinator) Transact(op Operation, opts ...TxOption) {
	if c.state.Load() != stateRunning {
		c.mustBeLive()
		violate(ViolationUninitialized, "coordinator is shutting down")
	}
	q, completion := c.resolve(opts)
	c.inflight.Add(1)

	finish := func(err error) {
		defer c.inflight.Done()
		if err != nil {
			c.logger.Warnw("Transaction failed", logger.FieldError, err)
		}
		if completion != nil {
			completion(err)
		}
	}

	if q == nil {
		c.pool.submit(
			func(th *Thread) { finish(c.run(th, op, "parallel")) },
			func() { finish(errors.Wrap(errors.ErrShutdown, "parallel transaction not started")) },
		)
		return
	}

	turn, release := q.ticket()
	go func() {
		th := newThread(false)
		<-turn
		err := c.runHeld(th, q, release, op)
		finish(err)
	}()
}

// TransactAndWait runs op on the calling thread and returns once it and its
// implicit commit are done. Forbidden on the main thread.
//
// A serial call made while th already runs a transaction on the same queue
// runs immediately instead of waiting for its own turn.
func (c *Coordinator) TransactAndWait(th *Thread, op Operation, opts ...TxOption) error {
	c.mustBeLive()
	th.assertCurrent()
	if th.main {
		violate(ViolationMainThread, "TransactAndWait cannot be called on the main thread")
	}
	q, _ := c.resolve(opts)

	c.inflight.Add(1)
	defer c.inflight.Done()

	if q == nil {
		return c.run(th, op, "parallel")
	}
	if th.holds(q) {
		return c.run(th, op, "serial")
	}
	turn, release := q.ticket()
	<-turn
	return c.runHeld(th, q, release, op)
}

// runHeld runs op while th holds q, releasing the queue even if op panics
func (c *Coordinator) runHeld(th *Thread, q *SerialQueue, release func(), op Operation) error {
	th.pushHeld(q)
	defer release()
	defer th.popHeld()
	return c.run(th, op, "serial")
}

// run is the transaction body: bind a fresh context, run op, commit unless
// op failed or suppressed it, then restore the previous binding.
func (c *Coordinator) run(th *Thread, op Operation, mode string) error {
	tx := &Transaction{
		id:   c.txSeq.Add(1),
		ctx:  newContext(c, KindTransaction, c.master),
		mode: mode,
	}
	log := c.logger.With(
		logger.FieldTransactionID, tx.id,
		logger.FieldThreadID, th.id,
		logger.FieldMode, mode,
	)

	prev := c.registry.push(th, tx.ctx)
	metrics.TransactionsStarted.WithLabelValues(mode).Inc()

	finished := false
	defer func() {
		c.registry.restore(th, prev)
		tx.ctx.dispose()
		if !finished {
			tx.setState(TxCancelled)
			metrics.TransactionsFailed.WithLabelValues(metrics.ReasonPanic).Inc()
			log.Errorw("Transaction panicked", logger.FieldState, tx.State().String())
		}
	}()

	tx.setState(TxRunning)
	log.Debugw("Transaction running", logger.FieldContextID, tx.ctx.id)

	if err := op(th); err != nil {
		finished = true
		tx.setState(TxCancelled)
		metrics.TransactionsFailed.WithLabelValues(metrics.ReasonOperation).Inc()
		return err
	}

	if c.registry.noImplicitCommit(th) {
		finished = true
		tx.setState(TxCancelled)
		metrics.TransactionsCancelled.Inc()
		log.Debugw("Implicit commit suppressed")
		return nil
	}

	tx.setState(TxCommitting)
	if err := c.commitContext(tx.ctx); err != nil {
		finished = true
		tx.setState(TxCancelled)
		metrics.TransactionsFailed.WithLabelValues(metrics.ReasonPersistence).Inc()
		return err
	}

	finished = true
	tx.setState(TxCommitted)
	metrics.TransactionsCommitted.Inc()
	return nil
}

// TransactionContext returns the context bound to th. Violation on the main
// thread or outside a transaction.
func (c *Coordinator) TransactionContext(th *Thread) *Context {
	c.mustBeLive()
	th.assertCurrent()
	return c.boundTransaction(th)
}

// CancelImplicitCommit makes the running transaction skip its automatic
// commit. Commit may still be called explicitly.
func (c *Coordinator) CancelImplicitCommit(th *Thread) {
	c.mustBeLive()
	th.assertCurrent()
	c.boundTransaction(th)
	c.registry.setNoImplicitCommit(th, true)
}

// Commit saves the running transaction's changes into Master and the store.
// On failure nothing changes in Master and the transaction keeps its
// changes, so the caller may retry.
func (c *Coordinator) Commit(th *Thread) error {
	c.mustBeLive()
	th.assertCurrent()
	return c.commitContext(c.boundTransaction(th))
}

func (c *Coordinator) boundTransaction(th *Thread) *Context {
	if th.main {
		violate(ViolationMainThread, "no transaction runs on the main thread")
	}
	ctx := c.registry.attached(th)
	if ctx == nil {
		violate(ViolationNoContext, "%s is not running a transaction", th)
	}
	return ctx
}

// commitContext merges ctx into Master and saves Master into the store
func (c *Coordinator) commitContext(ctx *Context) error {
	changes := ctx.changeSet()
	if changes.Empty() {
		return nil
	}
	start := time.Now()

	applied, seq, err := c.saveMaster(changes)
	metrics.CommitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Errorw("Commit failed",
			logger.FieldContextID, ctx.id,
			logger.FieldError, err,
		)
		return err
	}
	ctx.clearPending()

	c.logger.Debugw("Committed",
		logger.FieldContextID, ctx.id,
		logger.FieldInserted, len(applied.Inserted),
		logger.FieldUpdated, len(applied.Updated),
		logger.FieldDeleted, len(applied.Deleted),
		logger.FieldDurationMS, since(start),
	)

	if !applied.Empty() {
		c.queueMainMerge(seq, applied)
	}
	return nil
}
