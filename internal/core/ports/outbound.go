package ports

import (
	"context"
	"time"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

// InboxRepository persists inbox documents and performs assignment.
type InboxRepository interface {
	// Create inserts a new inbox document. A row with the same non-deleted
	// filename yields domain.ErrDuplicate.
	Create(ctx context.Context, doc *domain.InboxDocument) error
	// ExistsByFilename also counts discarded rows; HasLiveFilename does not.
	ExistsByFilename(ctx context.Context, filename string) (bool, error)
	HasLiveFilename(ctx context.Context, filename string) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.InboxDocument, error)
	ListPending(ctx context.Context, limit, offset int) ([]domain.InboxDocument, error)
	// Assign marks the inbox row processed and creates the document in one
	// transaction; it yields domain.ErrNotFoundOrProcessed when the row is
	// missing, discarded or already processed.
	Assign(ctx context.Context, req domain.AssignRequest, doc *domain.Document) error
	SoftDelete(ctx context.Context, id string) (*domain.InboxDocument, error)
}

// MappingRepository reads classification rules.
type MappingRepository interface {
	FindByTag(ctx context.Context, qrType string) (*domain.FileMapping, error)
	List(ctx context.Context) ([]domain.FileMapping, error)
	SeedDefaults(ctx context.Context, defaults []domain.FileMapping) (int, error)
}

// SettingsRepository stores JSON settings under well-known keys.
type SettingsRepository interface {
	GetEmailSettings(ctx context.Context) (domain.EmailSettings, bool, error)
	SaveEmailSettings(ctx context.Context, settings domain.EmailSettings) error
}

// Notifier delivers admin notifications.
type Notifier interface {
	NotifyAdmins(ctx context.Context, title, message, actionURL string) error
}

// NotificationFeed reads notifications that have not been acknowledged.
type NotificationFeed interface {
	ListUnread(ctx context.Context, limit int) ([]domain.Notification, error)
}

// BlobStore saves and fetches raw file bytes under opaque keys.
type BlobStore interface {
	Save(ctx context.Context, folder, originalName string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// SignedDownloadURL returns ok=false when the backend has no such concept.
	SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (url string, ok bool, err error)
}

// MetadataExtractor recovers an embedded classification tag and free text.
type MetadataExtractor interface {
	Extract(ctx context.Context, filename string, data []byte) domain.Extraction
}

// OCREngine recognizes text in an image.
type OCREngine interface {
	RecognizeText(ctx context.Context, image []byte, contentType string) (string, error)
}

// JobQueue publishes and consumes ingestion jobs.
type JobQueue interface {
	Publish(ctx context.Context, job domain.IngestJob) error
	Consume(ctx context.Context, handler func(context.Context, domain.IngestJob) error) error
}

// FailedJobLog keeps a bounded history of failed deliveries.
type FailedJobLog interface {
	Record(ctx context.Context, failed domain.FailedJob) error
	List(ctx context.Context) ([]domain.FailedJob, error)
}

// LeaseManager grants exclusive, expiring ownership of a logical resource.
// Acquire returns a token for this acquisition; Extend and Release act only
// while that token still owns the lease.
type LeaseManager interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)
	// Extend resets the TTL. It yields domain.ErrLeaseLost when the lease
	// expired or passed to another holder.
	Extend(ctx context.Context, name, token string, ttl time.Duration) error
	Release(ctx context.Context, name, token string) error
}

// Mailbox opens a session against the configured mail server.
type Mailbox interface {
	Open(ctx context.Context, settings domain.IMAPSettings) (MailboxSession, error)
}

// MailboxSession lists unseen messages and flags them seen.
type MailboxSession interface {
	FetchUnseen(ctx context.Context) ([]domain.MailMessage, error)
	MarkSeen(ctx context.Context, uid uint32) error
	Close() error
}

// DropFolder is the directory producers write into and the watcher observes.
type DropFolder interface {
	Path() string
	Write(name string, data []byte) (string, error)
	List() ([]string, error)
	Remove(name string) error
}
