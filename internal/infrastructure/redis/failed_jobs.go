package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

const failedJobsKey = "records-inbox:failed-jobs"

// FailedJobLog keeps the newest failures in a capped list.
type FailedJobLog struct {
	client redis.UniversalClient
	limit  int64
}

func NewFailedJobLog(client redis.UniversalClient, limit int) *FailedJobLog {
	if limit <= 0 {
		limit = 100
	}
	return &FailedJobLog{client: client, limit: int64(limit)}
}

func (l *FailedJobLog) Record(ctx context.Context, failed domain.FailedJob) error {
	payload, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal failed job: %w", err)
	}
	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, failedJobsKey, payload)
	pipe.LTrim(ctx, failedJobsKey, 0, l.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record failed job: %w", err)
	}
	return nil
}

// List returns failures newest first.
func (l *FailedJobLog) List(ctx context.Context) ([]domain.FailedJob, error) {
	raw, err := l.client.LRange(ctx, failedJobsKey, 0, l.limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	out := make([]domain.FailedJob, 0, len(raw))
	for _, item := range raw {
		var failed domain.FailedJob
		if err := json.Unmarshal([]byte(item), &failed); err != nil {
			return nil, fmt.Errorf("decode failed job: %w", err)
		}
		out = append(out, failed)
	}
	return out, nil
}
