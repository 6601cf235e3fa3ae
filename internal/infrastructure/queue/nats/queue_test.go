package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

// msgFake embeds the interface so only the methods the consumer uses need
// an implementation.
type msgFake struct {
	jetstream.Msg

	data      []byte
	delivered uint64
	acked     bool
	termed    bool
	nakDelay  time.Duration
	naked     bool
}

func (m *msgFake) Data() []byte { return m.data }

func (m *msgFake) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: m.delivered}, nil
}

func (m *msgFake) Ack() error {
	m.acked = true
	return nil
}

func (m *msgFake) Nak() error {
	m.naked = true
	return nil
}

func (m *msgFake) NakWithDelay(delay time.Duration) error {
	m.naked = true
	m.nakDelay = delay
	return nil
}

func (m *msgFake) Term() error {
	m.termed = true
	return nil
}

type failedLogFake struct {
	jobs []domain.FailedJob
}

func (f *failedLogFake) Record(_ context.Context, job domain.FailedJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *failedLogFake) List(context.Context) ([]domain.FailedJob, error) { return f.jobs, nil }

type observerFake struct {
	lags   int
	finals int
	retry  int
}

func (o *observerFake) ObserveQueueLag(time.Duration) { o.lags++ }

func (o *observerFake) ObserveRedelivery(final bool) {
	if final {
		o.finals++
		return
	}
	o.retry++
}

func newTestQueue(failed *failedLogFake, observer *observerFake) *Queue {
	return &Queue{opts: Options{MaxDeliver: 3, FailedJobs: failed, Observer: observer}.withDefaults()}
}

func jobMsg(t *testing.T, delivered uint64) *msgFake {
	t.Helper()
	data, err := json.Marshal(domain.IngestJob{ID: "job-1", Path: "/drop/a.pdf", EnqueuedAt: time.Now().Add(-time.Second)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &msgFake{data: data, delivered: delivered}
}

func TestHandleAcksSuccess(t *testing.T) {
	observer := &observerFake{}
	q := newTestQueue(&failedLogFake{}, observer)
	msg := jobMsg(t, 1)

	q.handle(context.Background(), msg, func(context.Context, domain.IngestJob) error { return nil })
	if !msg.acked || msg.naked || msg.termed {
		t.Fatalf("expected ack only, got %+v", msg)
	}
	if observer.lags != 1 {
		t.Fatalf("expected queue lag observed on first delivery")
	}
}

func TestHandleNaksRetryableWithBackoff(t *testing.T) {
	failed := &failedLogFake{}
	q := newTestQueue(failed, &observerFake{})
	msg := jobMsg(t, 2)

	q.handle(context.Background(), msg, func(context.Context, domain.IngestJob) error {
		return errors.New("storage unreachable")
	})
	if !msg.naked || msg.nakDelay != 2*time.Second {
		t.Fatalf("expected nak with 2s delay, got naked=%v delay=%s", msg.naked, msg.nakDelay)
	}
	if len(failed.jobs) != 1 || failed.jobs[0].Final || failed.jobs[0].Attempt != 2 {
		t.Fatalf("unexpected failed history %+v", failed.jobs)
	}
}

func TestHandleTerminatesAfterMaxDeliver(t *testing.T) {
	failed := &failedLogFake{}
	observer := &observerFake{}
	q := newTestQueue(failed, observer)
	msg := jobMsg(t, 3)

	q.handle(context.Background(), msg, func(context.Context, domain.IngestJob) error {
		return errors.New("ocr down")
	})
	if !msg.termed || msg.naked {
		t.Fatalf("expected term after max deliveries, got %+v", msg)
	}
	if !failed.jobs[0].Final || observer.finals != 1 {
		t.Fatalf("expected final failure recorded")
	}
}

func TestHandleAcksPermanentFailure(t *testing.T) {
	q := newTestQueue(&failedLogFake{}, &observerFake{})
	msg := jobMsg(t, 1)

	q.handle(context.Background(), msg, func(context.Context, domain.IngestJob) error {
		return domain.WrapError(domain.ErrFileGone, "process", errors.New("/drop/a.pdf"))
	})
	if !msg.acked || msg.naked || msg.termed {
		t.Fatalf("expected ack for permanent failure, got %+v", msg)
	}
}

func TestHandleTermsInvalidPayload(t *testing.T) {
	q := newTestQueue(&failedLogFake{}, &observerFake{})
	msg := &msgFake{data: []byte("not-json"), delivered: 1}

	called := false
	q.handle(context.Background(), msg, func(context.Context, domain.IngestJob) error {
		called = true
		return nil
	})
	if called || !msg.termed {
		t.Fatalf("expected invalid payload terminated without handler call")
	}
}

func TestRedeliveryDelay(t *testing.T) {
	cases := map[int]time.Duration{
		0:  time.Second,
		1:  time.Second,
		2:  2 * time.Second,
		5:  16 * time.Second,
		9:  256 * time.Second,
		10: 5 * time.Minute,
		40: 5 * time.Minute,
	}
	for attempt, want := range cases {
		if got := redeliveryDelay(attempt); got != want {
			t.Fatalf("redeliveryDelay(%d) = %s, want %s", attempt, got, want)
		}
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	err := wrapTemporaryIfNeeded(nats.ErrTimeout)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected timeout to be temporary, got %v", err)
	}
	err = wrapTemporaryIfNeeded(errors.New("bad subject"))
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected non-retryable error unchanged")
	}
}
