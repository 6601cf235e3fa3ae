package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/kirillkom/records-inbox/internal/core/domain"
	"github.com/kirillkom/records-inbox/internal/core/ports"
)

const (
	inboxMailbox       = "INBOX"
	maxAttachmentBytes = 50 << 20
)

// Mailbox dials IMAP servers with the settings stored by the triage UI.
type Mailbox struct {
	timeout time.Duration
}

func New(timeout time.Duration) *Mailbox {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Mailbox{timeout: timeout}
}

func (m *Mailbox) Open(ctx context.Context, settings domain.IMAPSettings) (ports.MailboxSession, error) {
	addr := net.JoinHostPort(strings.TrimSpace(settings.Host), strconv.Itoa(settings.PortOrDefault()))

	c, err := m.dial(ctx, addr, settings)
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", addr, err)
	}
	c.Timeout = m.timeout

	s := &Session{client: c, done: make(chan struct{})}
	go s.terminateOnCancel(ctx)

	if err := c.Login(settings.User, settings.Password); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(inboxMailbox, false); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("imap select %s: %w", inboxMailbox, err)
	}
	return s, nil
}

func (m *Mailbox) dial(ctx context.Context, addr string, settings domain.IMAPSettings) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: m.timeout}
	if settings.TLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: strings.TrimSpace(settings.Host), MinVersion: tls.VersionTLS12},
		}
		conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return client.New(conn)
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return client.New(conn)
}

// Session is a logged-in IMAP connection with INBOX selected.
type Session struct {
	client    *client.Client
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Session) terminateOnCancel(ctx context.Context) {
	select {
	case <-ctx.Done():
		_ = s.client.Terminate()
	case <-s.done:
	}
}

func (s *Session) FetchUnseen(ctx context.Context) ([]domain.MailMessage, error) {
	criteria := goimap.NewSearchCriteria()
	criteria.WithoutFlags = []string{goimap.SeenFlag}
	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search unseen: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(goimap.SeqSet)
	seqset.AddNum(uids...)
	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{goimap.FetchUid, goimap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *goimap.Message, 10)
	fetchErr := make(chan error, 1)
	go func() {
		fetchErr <- s.client.UidFetch(seqset, items, messages)
	}()

	out := make([]domain.MailMessage, 0, len(uids))
	for msg := range messages {
		item := domain.MailMessage{UID: msg.Uid}
		if msg.Envelope != nil {
			item.Subject = msg.Envelope.Subject
		}
		body := msg.GetBody(section)
		if body == nil {
			item.ParseErr = errors.New("message body missing from fetch response")
		} else {
			attachments, err := parseAttachments(body)
			item.Attachments = attachments
			item.ParseErr = err
		}
		out = append(out, item)
	}
	if err := <-fetchErr; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Session) MarkSeen(_ context.Context, uid uint32) error {
	seqset := new(goimap.SeqSet)
	seqset.AddNum(uid)
	flags := []interface{}{goimap.SeenFlag}
	if err := s.client.UidStore(seqset, goimap.FormatFlagsOp(goimap.AddFlags, true), flags, nil); err != nil {
		return fmt.Errorf("imap mark seen %d: %w", uid, err)
	}
	return nil
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if logoutErr := s.client.Logout(); logoutErr != nil && !errors.Is(logoutErr, client.ErrAlreadyLoggedOut) {
			slog.Warn("imap_logout_failed", "error", logoutErr)
			err = s.client.Terminate()
		}
	})
	return err
}

// parseAttachments walks a MIME message and returns every part that
// carries an attachment disposition.
func parseAttachments(r io.Reader) ([]domain.MailAttachment, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse mime: %w", err)
	}
	defer mr.Close()

	var out []domain.MailAttachment
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read mime part: %w", err)
		}

		header, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		filename, err := header.Filename()
		if err != nil || strings.TrimSpace(filename) == "" {
			continue
		}
		contentType, _, _ := header.ContentType()
		data, err := io.ReadAll(io.LimitReader(part.Body, maxAttachmentBytes+1))
		if err != nil {
			return out, fmt.Errorf("read attachment %s: %w", filename, err)
		}
		if len(data) > maxAttachmentBytes {
			slog.Warn("imap_attachment_too_large", "filename", filename)
			continue
		}
		out = append(out, domain.MailAttachment{
			Filename:    filename,
			ContentType: contentType,
			Data:        data,
		})
	}
}
