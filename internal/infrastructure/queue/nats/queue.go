package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kirillkom/records-inbox/internal/core/domain"
	"github.com/kirillkom/records-inbox/internal/core/ports"
	"github.com/kirillkom/records-inbox/internal/infrastructure/resilience"
)

const (
	minRedeliveryDelay = time.Second
	maxRedeliveryDelay = 5 * time.Minute
)

// DeliveryObserver receives per-delivery signals for metrics.
type DeliveryObserver interface {
	ObserveQueueLag(lag time.Duration)
	ObserveRedelivery(final bool)
}

type Options struct {
	Stream        string
	Subject       string
	Consumer      string
	Concurrency   int
	RatePerSecond float64
	MaxDeliver    int
	AckWait       time.Duration

	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	FailedJobs           ports.FailedJobLog
	Observer             DeliveryObserver
}

func (o Options) withDefaults() Options {
	if o.Stream == "" {
		o.Stream = "INGEST"
	}
	if o.Subject == "" {
		o.Subject = "ingest.files"
	}
	if o.Consumer == "" {
		o.Consumer = "ingest-workers"
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 10
	}
	if o.MaxDeliver <= 0 {
		o.MaxDeliver = 5
	}
	if o.AckWait <= 0 {
		o.AckWait = 10 * time.Minute
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 60
	}
	return o
}

// Queue is a JetStream work queue of ingest jobs.
type Queue struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	opts   Options
}

func New(ctx context.Context, url string, options Options) (*Queue, error) {
	opts := options.withDefaults()
	retryOnFailedConnect := true
	if opts.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *opts.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("records-inbox"),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      opts.Stream,
		Subjects:  []string{opts.Subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", opts.Stream, err)
	}

	return &Queue{conn: conn, js: js, stream: stream, opts: opts}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) Publish(ctx context.Context, job domain.IngestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal ingest job: %w", err)
	}

	call := func(callCtx context.Context) error {
		if _, err := q.js.Publish(callCtx, q.opts.Subject, payload, jetstream.WithMsgID(job.ID)); err != nil {
			return fmt.Errorf("jetstream publish: %w", err)
		}
		return nil
	}

	if q.opts.ResilienceExecutor != nil {
		err = q.opts.ResilienceExecutor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// Consume pulls jobs until ctx is cancelled. At most Concurrency handlers
// run at once and job starts are capped at RatePerSecond.
func (q *Queue) Consume(ctx context.Context, handler func(context.Context, domain.IngestJob) error) error {
	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       q.opts.Consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.opts.AckWait,
		MaxDeliver:    q.opts.MaxDeliver,
		FilterSubject: q.opts.Subject,
	})
	if err != nil {
		return fmt.Errorf("ensure consumer %s: %w", q.opts.Consumer, err)
	}

	iter, err := consumer.Messages(jetstream.PullMaxMessages(q.opts.Concurrency))
	if err != nil {
		return fmt.Errorf("open message iterator: %w", err)
	}
	stopOnce := sync.Once{}
	stop := func() { stopOnce.Do(iter.Stop) }
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	slots := semaphore.NewWeighted(int64(q.opts.Concurrency))
	limiter := rate.NewLimiter(rate.Limit(q.opts.RatePerSecond), 1)
	var wg sync.WaitGroup
	defer wg.Wait()

	slog.Info("queue_consumer_started",
		"stream", q.opts.Stream,
		"consumer", q.opts.Consumer,
		"concurrency", q.opts.Concurrency,
		"rate_per_second", q.opts.RatePerSecond,
	)
	for {
		msg, err := iter.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) || ctx.Err() != nil {
				return nil
			}
			slog.Warn("queue_next_failed", "error", err)
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			_ = msg.Nak()
			return nil
		}
		if err := slots.Acquire(ctx, 1); err != nil {
			_ = msg.Nak()
			return nil
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer slots.Release(1)
			q.handle(ctx, msg, handler)
		}()
	}
}

func (q *Queue) handle(ctx context.Context, msg jetstream.Msg, handler func(context.Context, domain.IngestJob) error) {
	var job domain.IngestJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil || job.Path == "" {
		slog.Error("queue_invalid_payload", "error", err, "bytes", len(msg.Data()))
		_ = msg.Term()
		return
	}

	attempt := 1
	if meta, err := msg.Metadata(); err == nil && meta.NumDelivered > 0 {
		attempt = int(meta.NumDelivered)
	}
	if attempt == 1 && q.opts.Observer != nil && !job.EnqueuedAt.IsZero() {
		q.opts.Observer.ObserveQueueLag(time.Since(job.EnqueuedAt))
	}

	err := handler(ctx, job)
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Warn("queue_ack_failed", "job_id", job.ID, "error", ackErr)
		}
		return
	}

	permanent := domain.IsPermanent(err)
	final := permanent || attempt >= q.opts.MaxDeliver
	q.recordFailure(ctx, job, attempt, final, err)

	switch {
	case permanent:
		slog.Warn("queue_job_dropped", "job_id", job.ID, "path", job.Path, "error", err)
		_ = msg.Ack()
	case final:
		slog.Error("queue_job_exhausted", "job_id", job.ID, "path", job.Path, "attempt", attempt, "error", err)
		_ = msg.Term()
	default:
		delay := redeliveryDelay(attempt)
		slog.Warn("queue_job_retry",
			"job_id", job.ID,
			"path", job.Path,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		_ = msg.NakWithDelay(delay)
	}
}

func (q *Queue) recordFailure(ctx context.Context, job domain.IngestJob, attempt int, final bool, cause error) {
	if q.opts.Observer != nil {
		q.opts.Observer.ObserveRedelivery(final)
	}
	if q.opts.FailedJobs == nil {
		return
	}
	failed := domain.FailedJob{
		JobID:    job.ID,
		Path:     job.Path,
		Attempt:  attempt,
		Final:    final,
		Error:    cause.Error(),
		FailedAt: time.Now().UTC(),
	}
	if err := q.opts.FailedJobs.Record(context.WithoutCancel(ctx), failed); err != nil {
		slog.Warn("failed_job_record_failed", "job_id", job.ID, "error", err)
	}
}

// redeliveryDelay doubles from one second per attempt, capped at five minutes.
func redeliveryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := minRedeliveryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRedeliveryDelay {
			return maxRedeliveryDelay
		}
	}
	return delay
}
