package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/records-inbox/internal/core/domain"
	"github.com/kirillkom/records-inbox/internal/core/ports"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 200
)

type TriageUseCase struct {
	inbox       ports.InboxRepository
	mappings    ports.MappingRepository
	blobs       ports.BlobStore
	drop        ports.DropFolder
	assigner    ports.DocumentAssigner
	ingest      *IngestUseCase
	failed      ports.FailedJobLog
	downloadTTL time.Duration
}

func NewTriageUseCase(
	inbox ports.InboxRepository,
	mappings ports.MappingRepository,
	blobs ports.BlobStore,
	drop ports.DropFolder,
	assigner ports.DocumentAssigner,
	ingest *IngestUseCase,
	failed ports.FailedJobLog,
	downloadTTL time.Duration,
) *TriageUseCase {
	if downloadTTL <= 0 {
		downloadTTL = 15 * time.Minute
	}
	return &TriageUseCase{
		inbox:       inbox,
		mappings:    mappings,
		blobs:       blobs,
		drop:        drop,
		assigner:    assigner,
		ingest:      ingest,
		failed:      failed,
		downloadTTL: downloadTTL,
	}
}

func (uc *TriageUseCase) ListPending(ctx context.Context, limit, offset int) ([]domain.InboxDocument, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	if limit > maxPendingLimit {
		limit = maxPendingLimit
	}
	if offset < 0 {
		offset = 0
	}
	return uc.inbox.ListPending(ctx, limit, offset)
}

func (uc *TriageUseCase) Assign(ctx context.Context, req domain.AssignRequest) (*domain.Document, error) {
	doc, err := uc.assigner.Assign(ctx, req)
	if err != nil {
		return nil, err
	}
	slog.Info("triage_assigned",
		"inbox_id", doc.InboxID,
		"document_id", doc.ID,
		"employee_id", doc.EmployeeID,
		"category", doc.Category,
	)
	return doc, nil
}

// Discard soft-deletes the inbox row; blob and drop-folder cleanup is best
// effort once the row is gone.
func (uc *TriageUseCase) Discard(ctx context.Context, inboxID string) error {
	inboxID = strings.TrimSpace(inboxID)
	if inboxID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "discard", errors.New("inbox id is required"))
	}
	doc, err := uc.inbox.SoftDelete(ctx, inboxID)
	if err != nil {
		return err
	}
	if doc.FileURL != "" {
		if err := uc.blobs.Delete(ctx, doc.FileURL); err != nil {
			slog.Warn("blob_cleanup_failed", "inbox_id", doc.ID, "key", doc.FileURL, "error", err)
		}
	}
	if err := uc.drop.Remove(doc.Filename); err != nil {
		slog.Warn("drop_folder_cleanup_failed", "inbox_id", doc.ID, "filename", doc.Filename, "error", err)
	}
	slog.Info("triage_discarded", "inbox_id", doc.ID, "filename", doc.Filename)
	return nil
}

func (uc *TriageUseCase) Download(ctx context.Context, inboxID string) (*ports.Download, error) {
	doc, err := uc.inbox.GetByID(ctx, strings.TrimSpace(inboxID))
	if err != nil {
		return nil, err
	}
	if doc.FileURL == "" {
		return nil, domain.WrapError(domain.ErrInboxNotFound, "download", errors.New("document has no stored file"))
	}

	result := &ports.Download{
		Filename:    doc.OriginalName,
		ContentType: doc.MimeType,
	}
	if result.ContentType == "" {
		result.ContentType = domain.ContentTypeByExtension(doc.Filename)
	}

	url, ok, err := uc.blobs.SignedDownloadURL(ctx, doc.FileURL, uc.downloadTTL)
	if err != nil {
		return nil, fmt.Errorf("sign download url: %w", err)
	}
	if ok {
		result.SignedURL = url
		return result, nil
	}

	data, err := uc.blobs.Get(ctx, doc.FileURL)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", doc.FileURL, err)
	}
	result.Data = data
	return result, nil
}

// Upload drops the file into the watched folder under the manual-upload
// prefix. With processNow the job is submitted without waiting for the
// watcher.
func (uc *TriageUseCase) Upload(ctx context.Context, filename string, body io.Reader, processNow bool) (string, error) {
	filename = strings.TrimSpace(filename)
	if !isEligibleAttachment(filename) {
		return "", domain.WrapError(domain.ErrInvalidInput, "upload", fmt.Errorf("unsupported file %q", filename))
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "upload", err)
	}
	if len(data) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("file is empty"))
	}

	name := domain.UploadFilePrefix + uuid.NewString() + "_" + sanitizeFilename(filename)
	path, err := uc.drop.Write(name, data)
	if err != nil {
		return "", fmt.Errorf("write upload to drop folder: %w", err)
	}
	slog.Info("triage_uploaded", "path", path, "bytes", len(data), "process_now", processNow)

	if processNow {
		if _, err := uc.ingest.Submit(ctx, path); err != nil {
			return path, err
		}
	}
	return path, nil
}

func (uc *TriageUseCase) Rescan(ctx context.Context) (int, error) {
	return uc.ingest.Rescan(ctx)
}

func (uc *TriageUseCase) FailedJobs(ctx context.Context) ([]domain.FailedJob, error) {
	return uc.failed.List(ctx)
}

func (uc *TriageUseCase) Mappings(ctx context.Context) ([]domain.FileMapping, error) {
	return uc.mappings.List(ctx)
}
