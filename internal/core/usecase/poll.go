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

const emailPollLease = "email-poll"

var emailAttachmentExtensions = map[string]struct{}{
	".pdf":  {},
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// EmailPollUseCase moves eligible attachments of unseen messages into the
// drop folder. The watcher picks them up from there.
type EmailPollUseCase struct {
	settings ports.SettingsRepository
	mailbox  ports.Mailbox
	drop     ports.DropFolder
	leases   ports.LeaseManager
	leaseTTL time.Duration

	failedJobs ports.FailedJobLog
	now        func() time.Time

	mu            sync.Mutex
	blockedUID    uint32
	blockedCycles int
}

func NewEmailPollUseCase(
	settings ports.SettingsRepository,
	mailbox ports.Mailbox,
	drop ports.DropFolder,
	leases ports.LeaseManager,
	leaseTTL time.Duration,
) *EmailPollUseCase {
	if leaseTTL <= 0 {
		leaseTTL = 10 * time.Minute
	}
	return &EmailPollUseCase{
		settings: settings,
		mailbox:  mailbox,
		drop:     drop,
		leases:   leases,
		leaseTTL: leaseTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithFailedJobLog records every message that aborts a cycle, so it shows
// up next to failed ingest jobs.
func (uc *EmailPollUseCase) WithFailedJobLog(failedJobs ports.FailedJobLog) *EmailPollUseCase {
	uc.failedJobs = failedJobs
	return uc
}

// Poll runs one cycle under the email-poll lease. The lease is extended
// while the cycle runs; losing it aborts the cycle before more messages are
// marked seen.
func (uc *EmailPollUseCase) Poll(ctx context.Context) (domain.PollResult, error) {
	lease, err := holdLease(ctx, uc.leases, emailPollLease, uc.leaseTTL)
	if err != nil {
		return domain.PollResult{}, err
	}
	if lease == nil {
		slog.Debug("email_poll_skipped", "reason", "lease_busy")
		return domain.PollResult{Skipped: true}, nil
	}
	defer lease.Release()

	result, err := uc.poll(lease.Context())
	if err != nil {
		if lost := lease.Lost(); lost != nil {
			return result, lost
		}
	}
	return result, err
}

func (uc *EmailPollUseCase) poll(ctx context.Context) (domain.PollResult, error) {
	settings, ok, err := uc.settings.GetEmailSettings(ctx)
	if err != nil {
		return domain.PollResult{}, fmt.Errorf("load email settings: %w", err)
	}
	if !ok || !settings.Ready() {
		slog.Debug("email_poll_skipped", "reason", "disabled")
		return domain.PollResult{Skipped: true}, nil
	}

	session, err := uc.mailbox.Open(ctx, settings.IMAP)
	if err != nil {
		return domain.PollResult{}, fmt.Errorf("open mailbox %s: %w", settings.IMAP.Host, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Warn("mailbox_close_failed", "error", err)
		}
	}()

	messages, err := session.FetchUnseen(ctx)
	if err != nil {
		return domain.PollResult{}, fmt.Errorf("fetch unseen messages: %w", err)
	}

	result := domain.PollResult{Messages: len(messages)}
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if msg.ParseErr != nil {
			err := fmt.Errorf("parse message uid=%d: %w", msg.UID, msg.ParseErr)
			result.BlockedUID = msg.UID
			result.BlockedCycles = uc.noteBlocked(ctx, settings.IMAP.Host, msg.UID, err)
			return result, err
		}
		saved, err := uc.saveAttachments(msg)
		if err != nil {
			return result, err
		}
		result.Saved += saved
		if err := session.MarkSeen(ctx, msg.UID); err != nil {
			return result, fmt.Errorf("mark message uid=%d seen: %w", msg.UID, err)
		}
	}

	uc.clearBlocked()
	slog.Info("email_poll_completed", "messages", result.Messages, "saved", result.Saved)
	return result, nil
}

// noteBlocked returns how many consecutive cycles uid has stopped. Every
// unseen message after it waits until it is fixed or flagged seen by hand.
func (uc *EmailPollUseCase) noteBlocked(ctx context.Context, host string, uid uint32, cause error) int {
	uc.mu.Lock()
	if uc.blockedUID == uid {
		uc.blockedCycles++
	} else {
		uc.blockedUID, uc.blockedCycles = uid, 1
	}
	cycles := uc.blockedCycles
	uc.mu.Unlock()

	slog.Error("email_message_blocking", "uid", uid, "cycles", cycles, "error", cause)
	if uc.failedJobs == nil {
		return cycles
	}
	failed := domain.FailedJob{
		JobID:    fmt.Sprintf("email-uid-%d", uid),
		Path:     fmt.Sprintf("imap://%s/INBOX/%d", host, uid),
		Attempt:  cycles,
		Error:    cause.Error(),
		FailedAt: uc.now(),
	}
	if err := uc.failedJobs.Record(context.WithoutCancel(ctx), failed); err != nil {
		slog.Warn("failed_job_record_failed", "job_id", failed.JobID, "error", err)
	}
	return cycles
}

func (uc *EmailPollUseCase) clearBlocked() {
	uc.mu.Lock()
	uc.blockedUID, uc.blockedCycles = 0, 0
	uc.mu.Unlock()
}

func (uc *EmailPollUseCase) saveAttachments(msg domain.MailMessage) (int, error) {
	saved := 0
	for _, att := range msg.Attachments {
		if !isEligibleAttachment(att.Filename) {
			slog.Debug("email_attachment_skipped", "uid", msg.UID, "filename", att.Filename)
			continue
		}
		name := domain.EmailFilePrefix + uuid.NewString() + "_" + sanitizeFilename(att.Filename)
		path, err := uc.drop.Write(name, att.Data)
		if err != nil {
			return saved, fmt.Errorf("write attachment %s: %w", att.Filename, err)
		}
		slog.Info("email_attachment_saved", "uid", msg.UID, "subject", msg.Subject, "path", path, "bytes", len(att.Data))
		saved++
	}
	return saved, nil
}

// Run polls once immediately and then on every tick until ctx is done.
// Cycles run inline, so a slow cycle delays the next one instead of
// overlapping it, and Run returns only after the current cycle finished.
func (uc *EmailPollUseCase) Run(ctx context.Context, interval time.Duration, observe func(domain.PollResult, error)) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	cycle := func() {
		result, err := uc.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Error("email_poll_failed", "error", err)
		}
		if observe != nil {
			observe(result, err)
		}
	}

	cycle()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			cycle()
		}
	}
}

func isEligibleAttachment(filename string) bool {
	if strings.TrimSpace(filename) == "" {
		return false
	}
	_, ok := emailAttachmentExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}
