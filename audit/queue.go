package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/authgate/core"
)

const (
	// QueueName is the River queue carrying audit jobs.
	QueueName = "audit"

	enqueueTimeout = 2 * time.Second
)

// EventArgs is the River job payload for one auth event.
type EventArgs struct {
	Event core.AuthEvent `json:"event"`
}

func (EventArgs) Kind() string { return "audit_event" }

func (EventArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueName, MaxAttempts: 5}
}

// EventWriter persists one event.
type EventWriter interface {
	Insert(ctx context.Context, ev core.AuthEvent) error
}

// EventWorker drains audit jobs into an EventWriter.
type EventWorker struct {
	river.WorkerDefaults[EventArgs]
	store EventWriter
}

func NewEventWorker(store EventWriter) *EventWorker {
	return &EventWorker{store: store}
}

func (w *EventWorker) Work(ctx context.Context, job *river.Job[EventArgs]) error {
	return w.store.Insert(ctx, job.Args.Event)
}

// JobInserter is satisfied by *river.Client.
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// QueueLogger enqueues events so the request path never waits on the insert
// into the events table.
type QueueLogger struct {
	jobs JobInserter
}

func NewQueueLogger(jobs JobInserter) *QueueLogger {
	return &QueueLogger{jobs: jobs}
}

func (q *QueueLogger) LogAuthEvent(ctx context.Context, ev core.AuthEvent) error {
	// The event outlives a client that hangs up mid-request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()
	if _, err := q.jobs.Insert(ctx, EventArgs{Event: ev}, nil); err != nil {
		return fmt.Errorf("enqueue audit event: %w", err)
	}
	return nil
}

// Queue owns the River client that moves audit events into Postgres.
type Queue struct {
	client *river.Client[pgx.Tx]
	log    logrus.FieldLogger
}

// NewQueue builds a River client over pool with one worker kind, EventWorker
// writing to store.
func NewQueue(pool *pgxpool.Pool, store EventWriter, maxWorkers int, log logrus.FieldLogger) (*Queue, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, NewEventWorker(store)); err != nil {
		return nil, err
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  map[string]river.QueueConfig{QueueName: {MaxWorkers: maxWorkers}},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("river client: %w", err)
	}
	return &Queue{client: client, log: log}, nil
}

// MigrateRiver applies River's own schema migrations.
func MigrateRiver(ctx context.Context, pool *pgxpool.Pool, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return err
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate: %w", err)
	}
	for _, v := range res.Versions {
		log.WithField("version", v.Version).Info("river migration applied")
	}
	return nil
}

// Logger returns an AuthEventLogger that enqueues onto this queue.
func (q *Queue) Logger() *QueueLogger { return NewQueueLogger(q.client) }

func (q *Queue) Start(ctx context.Context) error {
	if err := q.client.Start(ctx); err != nil {
		return err
	}
	q.log.WithField("queue", QueueName).Info("audit queue started")
	return nil
}

// Stop waits for running jobs to finish or ctx to expire.
func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}
