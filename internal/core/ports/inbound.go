package ports

import (
	"context"
	"io"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

// FileProcessor is the inbound contract executed once per dequeued job.
type FileProcessor interface {
	Process(ctx context.Context, job domain.IngestJob) (domain.ProcessOutcome, error)
}

// JobSubmitter turns a file path in the drop folder into a queued job.
type JobSubmitter interface {
	Submit(ctx context.Context, path string) (bool, error)
}

// DocumentAssigner finalizes an inbox document into the archive.
type DocumentAssigner interface {
	Assign(ctx context.Context, req domain.AssignRequest) (*domain.Document, error)
}

// MailPoller runs one email poll cycle. Skipped is set when another cycle
// holds the poll lease or polling is disabled.
type MailPoller interface {
	Poll(ctx context.Context) (domain.PollResult, error)
}

// TriageService is the inbound contract for manual review.
type TriageService interface {
	ListPending(ctx context.Context, limit, offset int) ([]domain.InboxDocument, error)
	Assign(ctx context.Context, req domain.AssignRequest) (*domain.Document, error)
	Discard(ctx context.Context, inboxID string) error
	Download(ctx context.Context, inboxID string) (*Download, error)
	Upload(ctx context.Context, filename string, body io.Reader, processNow bool) (string, error)
	Rescan(ctx context.Context) (int, error)
	FailedJobs(ctx context.Context) ([]domain.FailedJob, error)
	Mappings(ctx context.Context) ([]domain.FileMapping, error)
}

// Download is either a signed redirect URL or the raw bytes.
type Download struct {
	Filename    string
	ContentType string
	SignedURL   string
	Data        []byte
}
