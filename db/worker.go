package db

import (
	"context"
	"database/sql"
	"errors"
)

var ErrWorkerClosed = errors.New("db worker closed")

type TxFunc func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx context.Context
	fn  TxFunc
	ch  chan error
}

// Worker runs write transactions one at a time on a single goroutine, so a
// read-then-write inside one TxFunc cannot interleave with another writer.
type Worker struct {
	db     *sql.DB
	jobs   chan job
	done   chan struct{}
	closed chan struct{}
}

func NewWorker(db *sql.DB) *Worker {
	w := &Worker{
		db:     db,
		jobs:   make(chan job, 64),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Close stops accepting jobs and waits for queued ones to finish. It must be
// called once.
func (w *Worker) Close() {
	close(w.closed)
	close(w.jobs)
	<-w.done
}

func (w *Worker) Do(ctx context.Context, fn TxFunc) (err error) {
	ch := make(chan error, 1)

	defer func() {
		// Sending on w.jobs after Close panics.
		if recover() != nil {
			err = ErrWorkerClosed
		}
	}()

	select {
	case <-w.closed:
		return ErrWorkerClosed
	default:
	}

	select {
	case w.jobs <- job{ctx: ctx, fn: fn, ch: ch}:
	case <-ctx.Done():
		return ctx.Err()
	}

	// If ctx expires while the job runs, the transaction still completes and
	// its result is dropped into the buffered channel.
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	for j := range w.jobs {
		j.ch <- w.run(j)
	}
}

func (w *Worker) run(j job) error {
	if err := j.ctx.Err(); err != nil {
		return err
	}

	tx, err := w.db.BeginTx(j.ctx, nil)
	if err != nil {
		return err
	}

	if err := j.fn(j.ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
