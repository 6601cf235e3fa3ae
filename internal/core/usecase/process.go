package usecase

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/records-inbox/internal/core/domain"
	"github.com/kirillkom/records-inbox/internal/core/ports"
)

const (
	inboxFolder       = "inbox"
	ingestLeasePrefix = "ingest:"

	titleAutoFiled     = "Documento archivado automáticamente"
	titlePendingReview = "Nuevo documento pendiente de revisión"
	triageActionURL    = "/inbox"
)

type ProcessFileUseCase struct {
	inbox     ports.InboxRepository
	mappings  ports.MappingRepository
	blobs     ports.BlobStore
	extractor ports.MetadataExtractor
	assigner  ports.DocumentAssigner
	notifier  ports.Notifier
	leases    ports.LeaseManager
	leaseTTL  time.Duration

	now func() time.Time
}

func NewProcessFileUseCase(
	inbox ports.InboxRepository,
	mappings ports.MappingRepository,
	blobs ports.BlobStore,
	extractor ports.MetadataExtractor,
	assigner ports.DocumentAssigner,
	notifier ports.Notifier,
	leases ports.LeaseManager,
	leaseTTL time.Duration,
) *ProcessFileUseCase {
	if leaseTTL <= 0 {
		leaseTTL = 10 * time.Minute
	}
	return &ProcessFileUseCase{
		inbox:     inbox,
		mappings:  mappings,
		blobs:     blobs,
		extractor: extractor,
		assigner:  assigner,
		notifier:  notifier,
		leases:    leases,
		leaseTTL:  leaseTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Process ingests one drop-folder file. A nil error with OutcomeGone or
// OutcomeDuplicate means the job is done and must not be retried.
func (uc *ProcessFileUseCase) Process(ctx context.Context, job domain.IngestJob) (domain.ProcessOutcome, error) {
	filename := filepath.Base(job.Path)
	logger := slog.With("job_id", job.ID, "filename", filename)

	if _, err := os.Stat(job.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("ingest_file_gone", "path", job.Path)
			return domain.OutcomeGone, nil
		}
		return "", fmt.Errorf("stat %s: %w", job.Path, err)
	}

	name := ingestLeasePrefix + filename
	lease, err := holdLease(ctx, uc.leases, name, uc.leaseTTL)
	if err != nil {
		return "", err
	}
	if lease == nil {
		return "", domain.WrapError(domain.ErrLeaseBusy, "acquire lease", errors.New(name))
	}
	defer lease.Release()

	outcome, err := uc.ingest(lease.Context(), job, filename, logger)
	if err != nil {
		if lost := lease.Lost(); lost != nil {
			return "", lost
		}
		return "", err
	}
	return outcome, nil
}

// ingest runs while the per-filename lease is held.
func (uc *ProcessFileUseCase) ingest(
	ctx context.Context,
	job domain.IngestJob,
	filename string,
	logger *slog.Logger,
) (domain.ProcessOutcome, error) {
	exists, err := uc.inbox.HasLiveFilename(ctx, filename)
	if err != nil {
		return "", fmt.Errorf("check existing inbox document: %w", err)
	}
	if exists {
		logger.Info("ingest_duplicate_skipped")
		return domain.OutcomeDuplicate, nil
	}

	data, err := os.ReadFile(job.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("ingest_file_gone", "path", job.Path)
			return domain.OutcomeGone, nil
		}
		return "", fmt.Errorf("read %s: %w", job.Path, err)
	}

	extraction := uc.extractor.Extract(ctx, filename, data)
	logger.Info("ingest_extracted",
		"tag", extraction.Tag.Outcome.String(),
		"tag_reason", extraction.Tag.Reason,
		"ocr_status", extraction.OCRStatus,
		"text_chars", len(extraction.Text),
	)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	doc, err := uc.store(ctx, job, filename, data, extraction)
	if err != nil {
		if domain.IsKind(err, domain.ErrDuplicate) {
			logger.Info("ingest_duplicate_skipped", "reason", "unique_filename")
			return domain.OutcomeDuplicate, nil
		}
		return "", err
	}

	tag := extraction.Tag
	if tag.Outcome != domain.TagFound || !tag.Tag.Usable() {
		uc.notifyPendingReview(ctx, doc)
		logger.Info("ingest_pending_review", "inbox_id", doc.ID)
		return domain.OutcomePendingReview, nil
	}

	if err := uc.autoAssign(ctx, doc, tag.Tag); err != nil {
		uc.notifyPendingReview(ctx, doc)
		return "", err
	}
	return domain.OutcomeAutoAssigned, nil
}

// store uploads the raw bytes and persists the inbox record.
func (uc *ProcessFileUseCase) store(
	ctx context.Context,
	job domain.IngestJob,
	filename string,
	data []byte,
	extraction domain.Extraction,
) (*domain.InboxDocument, error) {
	contentType := domain.ContentTypeByExtension(filename)
	key, err := uc.blobs.Save(ctx, inboxFolder, filename, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("upload to blob store: %w", err)
	}

	source, original := job.Source, job.OriginalName
	if source == "" || original == "" {
		source, original = domain.SourceFromFilename(filename)
	}

	var content *string
	if extraction.Text != "" {
		text := extraction.Text
		content = &text
	}
	ocrStatus := extraction.OCRStatus
	if ocrStatus == "" {
		ocrStatus = domain.OCRStatusPending
	}

	doc := &domain.InboxDocument{
		ID:           uuid.NewString(),
		Filename:     filename,
		OriginalName: original,
		Source:       source,
		FileURL:      key,
		MimeType:     contentType,
		SizeBytes:    int64(len(data)),
		Content:      content,
		OCRStatus:    ocrStatus,
		ReceivedAt:   uc.now(),
	}
	if err := uc.inbox.Create(ctx, doc); err != nil {
		// A redelivery uploads again, so the blob is orphaned on any failure.
		uc.deleteBlob(ctx, key)
		return nil, fmt.Errorf("create inbox document: %w", err)
	}
	return doc, nil
}

func (uc *ProcessFileUseCase) autoAssign(ctx context.Context, doc *domain.InboxDocument, tag domain.ClassificationTag) error {
	mapping, err := uc.mappings.FindByTag(ctx, tag.Type)
	if err != nil {
		return fmt.Errorf("find mapping for %s: %w", tag.Type, err)
	}
	placement := domain.ResolvePlacement(mapping, tag, uc.now())
	if !placement.Known {
		slog.Warn("ingest_unknown_tag_type", "inbox_id", doc.ID, "qr_type", tag.Type, "category", placement.Category)
	}

	archived, err := uc.assigner.Assign(ctx, domain.AssignRequest{
		InboxID:    doc.ID,
		EmployeeID: tag.EmployeeID,
		Category:   placement.Category,
		Name:       placement.Name,
	})
	if err != nil {
		return fmt.Errorf("auto-assign inbox document: %w", err)
	}
	slog.Info("ingest_auto_assigned",
		"inbox_id", doc.ID,
		"document_id", archived.ID,
		"employee_id", archived.EmployeeID,
		"category", archived.Category,
		"name", archived.Name,
	)

	uc.notify(ctx,
		titleAutoFiled,
		fmt.Sprintf("%s se archivó en %s para el empleado %s", archived.Name, archived.Category, archived.EmployeeID),
		fmt.Sprintf("/employees/%s/documents", archived.EmployeeID),
	)
	return nil
}

func (uc *ProcessFileUseCase) notifyPendingReview(ctx context.Context, doc *domain.InboxDocument) {
	uc.notify(ctx,
		titlePendingReview,
		fmt.Sprintf("%s (%s) requiere revisión manual", doc.OriginalName, doc.Source),
		triageActionURL,
	)
}

func (uc *ProcessFileUseCase) notify(ctx context.Context, title, message, actionURL string) {
	if uc.notifier == nil {
		return
	}
	if err := uc.notifier.NotifyAdmins(ctx, title, message, actionURL); err != nil {
		slog.Warn("notify_admins_failed", "title", title, "error", err)
	}
}

// deleteBlob outlives a cancelled job context, for example after the lease
// was lost mid-job.
func (uc *ProcessFileUseCase) deleteBlob(ctx context.Context, key string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaseReleaseTimeout)
	defer cancel()
	if err := uc.blobs.Delete(cleanupCtx, key); err != nil {
		slog.Warn("blob_cleanup_failed", "key", key, "error", err)
	}
}
