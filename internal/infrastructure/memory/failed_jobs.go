package memory

import (
	"context"
	"sync"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

// FailedJobLog is a bounded in-process failure history, newest first.
type FailedJobLog struct {
	mu    sync.Mutex
	limit int
	jobs  []domain.FailedJob
}

func NewFailedJobLog(limit int) *FailedJobLog {
	if limit <= 0 {
		limit = 100
	}
	return &FailedJobLog{limit: limit}
}

func (l *FailedJobLog) Record(_ context.Context, failed domain.FailedJob) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs = append([]domain.FailedJob{failed}, l.jobs...)
	if len(l.jobs) > l.limit {
		l.jobs = l.jobs[:l.limit]
	}
	return nil
}

func (l *FailedJobLog) List(context.Context) ([]domain.FailedJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.FailedJob, len(l.jobs))
	copy(out, l.jobs)
	return out, nil
}
