package usecase

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/records-inbox/internal/core/domain"
	"github.com/kirillkom/records-inbox/internal/core/ports"
	"github.com/kirillkom/records-inbox/internal/infrastructure/memory"
)

type settingsFake struct {
	settings domain.EmailSettings
	ok       bool
	err      error
}

func (f *settingsFake) GetEmailSettings(context.Context) (domain.EmailSettings, bool, error) {
	return f.settings, f.ok, f.err
}

func (f *settingsFake) SaveEmailSettings(_ context.Context, s domain.EmailSettings) error {
	f.settings, f.ok = s, true
	return nil
}

type mailboxFake struct {
	mu       sync.Mutex
	messages []domain.MailMessage
	openErr  error
	opens    int
	seen     []uint32
	closed   int
	entered  chan struct{}
	block    chan struct{}
}

func (f *mailboxFake) Open(ctx context.Context, _ domain.IMAPSettings) (ports.MailboxSession, error) {
	f.mu.Lock()
	f.opens++
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f, nil
}

func (f *mailboxFake) FetchUnseen(context.Context) ([]domain.MailMessage, error) {
	return f.messages, nil
}

func (f *mailboxFake) MarkSeen(_ context.Context, uid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, uid)
	return nil
}

func (f *mailboxFake) Close() error {
	f.closed++
	return nil
}

func enabledSettings() *settingsFake {
	return &settingsFake{ok: true, settings: domain.EmailSettings{
		EmailEnabled: true,
		IMAP:         domain.IMAPSettings{Host: "imap.example.com", TLS: true, User: "rrhh@example.com", Password: "secret"},
	}}
}

func TestPollSavesEligibleAttachments(t *testing.T) {
	drop := &dropDirFake{dir: t.TempDir()}
	mailbox := &mailboxFake{messages: []domain.MailMessage{{
		UID:     7,
		Subject: "Bajas marzo",
		Attachments: []domain.MailAttachment{
			{Filename: "baja médica.PDF", Data: []byte("%PDF-1.4")},
			{Filename: "foto.jpg", Data: []byte{0xff, 0xd8}},
			{Filename: "notas.docx", Data: []byte("docx")},
		},
	}}}
	uc := NewEmailPollUseCase(enabledSettings(), mailbox, drop, newLeaseFake(), time.Minute)

	result, err := uc.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if result.Messages != 1 || result.Saved != 2 || result.Skipped {
		t.Fatalf("unexpected result %+v", result)
	}
	names, _ := drop.List()
	if len(names) != 2 {
		t.Fatalf("expected 2 files in drop folder, got %v", names)
	}
	for _, name := range names {
		if !strings.HasPrefix(name, domain.EmailFilePrefix) {
			t.Fatalf("expected email prefix, got %s", name)
		}
		if strings.Contains(name, " ") {
			t.Fatalf("expected sanitized name, got %s", name)
		}
	}
	if len(mailbox.seen) != 1 || mailbox.seen[0] != 7 {
		t.Fatalf("expected uid 7 marked seen, got %v", mailbox.seen)
	}
	if mailbox.closed != 1 {
		t.Fatalf("expected session closed")
	}
}

func TestPollDocxOnlyMessageMarkedSeenWithoutFiles(t *testing.T) {
	drop := &dropDirFake{dir: t.TempDir()}
	mailbox := &mailboxFake{messages: []domain.MailMessage{{
		UID:         3,
		Attachments: []domain.MailAttachment{{Filename: "contrato.docx", Data: []byte("docx")}},
	}}}
	uc := NewEmailPollUseCase(enabledSettings(), mailbox, drop, newLeaseFake(), time.Minute)

	result, err := uc.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if result.Saved != 0 {
		t.Fatalf("expected nothing saved, got %d", result.Saved)
	}
	entries, _ := os.ReadDir(drop.dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty drop folder, got %d entries", len(entries))
	}
	if len(mailbox.seen) != 1 || mailbox.seen[0] != 3 {
		t.Fatalf("expected message marked seen, got %v", mailbox.seen)
	}
}

func TestPollDisabledIsNoop(t *testing.T) {
	mailbox := &mailboxFake{}
	settings := enabledSettings()
	settings.settings.EmailEnabled = false
	uc := NewEmailPollUseCase(settings, mailbox, &dropDirFake{dir: t.TempDir()}, newLeaseFake(), time.Minute)

	result, err := uc.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !result.Skipped || mailbox.opens != 0 {
		t.Fatalf("expected skipped without connecting, result=%+v opens=%d", result, mailbox.opens)
	}
}

func TestPollMissingSettingsIsNoop(t *testing.T) {
	mailbox := &mailboxFake{}
	uc := NewEmailPollUseCase(&settingsFake{}, mailbox, &dropDirFake{dir: t.TempDir()}, newLeaseFake(), time.Minute)

	result, err := uc.Poll(context.Background())
	if err != nil || !result.Skipped || mailbox.opens != 0 {
		t.Fatalf("expected silent skip, result=%+v err=%v opens=%d", result, err, mailbox.opens)
	}
}

func TestPollIsSingleFlight(t *testing.T) {
	mailbox := &mailboxFake{entered: make(chan struct{}, 1), block: make(chan struct{})}
	leases := newLeaseFake()
	uc := NewEmailPollUseCase(enabledSettings(), mailbox, &dropDirFake{dir: t.TempDir()}, leases, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := uc.Poll(context.Background())
		done <- err
	}()
	<-mailbox.entered

	result, err := uc.Poll(context.Background())
	if err != nil {
		t.Fatalf("second Poll() error = %v", err)
	}
	if !result.Skipped {
		t.Fatalf("expected second cycle skipped, got %+v", result)
	}

	close(mailbox.block)
	if err := <-done; err != nil {
		t.Fatalf("first Poll() error = %v", err)
	}
	if mailbox.opens != 1 {
		t.Fatalf("expected one connection, got %d", mailbox.opens)
	}
	if leases.heldCount() != 0 {
		t.Fatalf("expected lease released")
	}
}

func TestPollSingleFlightOutlivesLeaseTTL(t *testing.T) {
	drop := &dropDirFake{dir: t.TempDir()}
	mailbox := &mailboxFake{
		entered: make(chan struct{}, 1),
		block:   make(chan struct{}),
		messages: []domain.MailMessage{
			{UID: 1, Attachments: []domain.MailAttachment{{Filename: "nomina.pdf", Data: []byte("%PDF-1.4")}}},
		},
	}
	uc := NewEmailPollUseCase(enabledSettings(), mailbox, drop, memory.NewLeaseManager(), 50*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := uc.Poll(context.Background())
		done <- err
	}()
	<-mailbox.entered

	time.Sleep(150 * time.Millisecond)
	result, err := uc.Poll(context.Background())
	if err != nil || !result.Skipped {
		t.Fatalf("expected second cycle skipped past the TTL, got %+v err=%v", result, err)
	}

	close(mailbox.block)
	if err := <-done; err != nil {
		t.Fatalf("first Poll() error = %v", err)
	}
	entries, err := os.ReadDir(drop.dir)
	if err != nil {
		t.Fatalf("read drop dir: %v", err)
	}
	if mailbox.opens != 1 || len(entries) != 1 || len(mailbox.seen) != 1 {
		t.Fatalf("expected one cycle, opens=%d files=%d seen=%v", mailbox.opens, len(entries), mailbox.seen)
	}
}

func TestPollConnectionFailureLeavesMessagesUnseen(t *testing.T) {
	mailbox := &mailboxFake{openErr: errors.New("dial tcp: refused")}
	uc := NewEmailPollUseCase(enabledSettings(), mailbox, &dropDirFake{dir: t.TempDir()}, newLeaseFake(), time.Minute)

	if _, err := uc.Poll(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if len(mailbox.seen) != 0 {
		t.Fatalf("expected no messages marked seen")
	}
}

func TestPollParseFailureAbortsCycle(t *testing.T) {
	drop := &dropDirFake{dir: t.TempDir()}
	mailbox := &mailboxFake{messages: []domain.MailMessage{
		{UID: 1, ParseErr: errors.New("malformed MIME")},
		{UID: 2, Attachments: []domain.MailAttachment{{Filename: "a.pdf", Data: []byte("x")}}},
	}}
	uc := NewEmailPollUseCase(enabledSettings(), mailbox, drop, newLeaseFake(), time.Minute)

	if _, err := uc.Poll(context.Background()); err == nil {
		t.Fatalf("expected parse error")
	}
	if len(mailbox.seen) != 0 {
		t.Fatalf("expected unprocessed messages left unseen, got %v", mailbox.seen)
	}
}

func TestPollReportsBlockingMessage(t *testing.T) {
	drop := &dropDirFake{dir: t.TempDir()}
	failed := &failedLogFake{}
	mailbox := &mailboxFake{messages: []domain.MailMessage{
		{UID: 7, ParseErr: errors.New("malformed MIME")},
	}}
	uc := NewEmailPollUseCase(enabledSettings(), mailbox, drop, newLeaseFake(), time.Minute).
		WithFailedJobLog(failed)

	for cycle := 1; cycle <= 2; cycle++ {
		result, err := uc.Poll(context.Background())
		if err == nil {
			t.Fatalf("cycle %d: expected parse error", cycle)
		}
		if result.BlockedUID != 7 || result.BlockedCycles != cycle {
			t.Fatalf("cycle %d: unexpected result %+v", cycle, result)
		}
	}
	if len(failed.jobs) != 2 || failed.jobs[0].JobID != "email-uid-7" || failed.jobs[0].Attempt != 2 {
		t.Fatalf("unexpected failed jobs %+v", failed.jobs)
	}
	if !strings.Contains(failed.jobs[0].Error, "malformed MIME") {
		t.Fatalf("expected parse error recorded, got %q", failed.jobs[0].Error)
	}

	mailbox.messages = []domain.MailMessage{{UID: 7}}
	if result, err := uc.Poll(context.Background()); err != nil || result.BlockedUID != 0 {
		t.Fatalf("expected clean cycle, got %+v err=%v", result, err)
	}
	mailbox.messages = []domain.MailMessage{{UID: 9, ParseErr: errors.New("bad boundary")}}
	if result, _ := uc.Poll(context.Background()); result.BlockedUID != 9 || result.BlockedCycles != 1 {
		t.Fatalf("expected count restarted for new uid, got %+v", result)
	}
}

func TestRunPollsAtStartup(t *testing.T) {
	mailbox := &mailboxFake{}
	uc := NewEmailPollUseCase(enabledSettings(), mailbox, &dropDirFake{dir: t.TempDir()}, newLeaseFake(), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan domain.PollResult, 1)
	go uc.Run(ctx, time.Hour, func(r domain.PollResult, _ error) {
		select {
		case results <- r:
		default:
		}
	})
	defer cancel()

	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected startup poll")
	}
}
