package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/records-inbox/internal/core/domain"
	"github.com/kirillkom/records-inbox/internal/core/ports"
)

// IngestUseCase submits drop-folder files to the ingestion queue. The seen
// set only short-circuits repeated submissions within this process; the
// processor's lease and the filename unique index are what guarantee
// at-most-once ingestion. A name leaves the set once its job completes, so
// the set holds only in-flight files. A job the queue terminated after its
// last delivery keeps its name until a rescan resubmits it.
type IngestUseCase struct {
	queue ports.JobQueue
	inbox ports.InboxRepository
	drop  ports.DropFolder

	mu   sync.Mutex
	seen map[string]struct{}

	now func() time.Time
}

func NewIngestUseCase(queue ports.JobQueue, inbox ports.InboxRepository, drop ports.DropFolder) *IngestUseCase {
	return &IngestUseCase{
		queue: queue,
		inbox: inbox,
		drop:  drop,
		seen:  make(map[string]struct{}),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Submit enqueues one job for path unless this process already did.
func (uc *IngestUseCase) Submit(ctx context.Context, path string) (bool, error) {
	filename := filepath.Base(path)
	if isHiddenName(filename) {
		return false, nil
	}
	if !uc.markSeen(filename) {
		slog.Debug("ingest_submit_skipped", "filename", filename, "reason", "already_submitted")
		return false, nil
	}
	if err := uc.publish(ctx, path); err != nil {
		uc.forget(filename)
		return false, err
	}
	return true, nil
}

// Rescan re-lists the drop folder and submits every file that has no
// stored inbox document, regardless of what this process submitted before.
func (uc *IngestUseCase) Rescan(ctx context.Context) (int, error) {
	names, err := uc.drop.List()
	if err != nil {
		return 0, fmt.Errorf("list drop folder: %w", err)
	}

	submitted := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return submitted, err
		}
		if isHiddenName(name) {
			continue
		}
		exists, err := uc.inbox.ExistsByFilename(ctx, name)
		if err != nil {
			return submitted, fmt.Errorf("check inbox for %s: %w", name, err)
		}
		if exists {
			continue
		}
		if err := uc.publish(ctx, filepath.Join(uc.drop.Path(), name)); err != nil {
			return submitted, err
		}
		uc.markSeen(name)
		submitted++
	}
	slog.Info("ingest_rescan_completed", "listed", len(names), "submitted", submitted)
	return submitted, nil
}

func (uc *IngestUseCase) publish(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "resolve job path", err)
	}
	source, original := domain.SourceFromFilename(abs)
	job := domain.IngestJob{
		ID:           uuid.NewString(),
		Path:         abs,
		Source:       source,
		OriginalName: original,
		EnqueuedAt:   uc.now(),
	}
	if err := uc.queue.Publish(ctx, job); err != nil {
		return fmt.Errorf("publish ingest job: %w", err)
	}
	slog.Info("ingest_job_submitted", "job_id", job.ID, "path", job.Path, "source", job.Source)
	return nil
}

// Forget drops path from the seen set after its job completed. A file
// dropped again under the same name is then submitted by the watcher.
func (uc *IngestUseCase) Forget(path string) {
	uc.forget(filepath.Base(path))
}

func (uc *IngestUseCase) markSeen(filename string) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if _, ok := uc.seen[filename]; ok {
		return false
	}
	uc.seen[filename] = struct{}{}
	return true
}

func (uc *IngestUseCase) forget(filename string) {
	uc.mu.Lock()
	delete(uc.seen, filename)
	uc.mu.Unlock()
}

func isHiddenName(name string) bool {
	return name == "" || strings.HasPrefix(name, ".")
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	base = strings.TrimLeft(base, ".")
	if base == "" {
		return "document.bin"
	}
	return base
}
