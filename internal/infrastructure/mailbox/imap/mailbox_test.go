package imap

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

const multipartMessage = "From: scanner@example.com\r\n" +
	"To: rrhh@example.com\r\n" +
	"Subject: Escaneo 0042\r\n" +
	"Date: Tue, 05 Mar 2024 10:00:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Adjunto el documento.\r\n" +
	"--b1\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"nomina.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQ=\r\n" +
	"--b1\r\n" +
	"Content-Type: application/vnd.openxmlformats-officedocument.wordprocessingml.document\r\n" +
	"Content-Disposition: attachment; filename=\"notas.docx\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"UEs=\r\n" +
	"--b1--\r\n"

func TestParseAttachments(t *testing.T) {
	attachments, err := parseAttachments(strings.NewReader(multipartMessage))
	if err != nil {
		t.Fatalf("parseAttachments() error = %v", err)
	}
	if len(attachments) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(attachments))
	}
	if attachments[0].Filename != "nomina.pdf" || string(attachments[0].Data) != "%PDF-1.4" {
		t.Fatalf("unexpected first attachment: %+v", attachments[0])
	}
	if attachments[0].ContentType != "application/pdf" {
		t.Fatalf("unexpected content type %q", attachments[0].ContentType)
	}
	if attachments[1].Filename != "notas.docx" {
		t.Fatalf("unexpected second attachment %q", attachments[1].Filename)
	}
}

func TestParseAttachmentsPlainMessage(t *testing.T) {
	msg := "Subject: hola\r\nContent-Type: text/plain\r\n\r\nsin adjuntos\r\n"
	attachments, err := parseAttachments(strings.NewReader(msg))
	if err != nil {
		t.Fatalf("parseAttachments() error = %v", err)
	}
	if len(attachments) != 0 {
		t.Fatalf("expected no attachments, got %d", len(attachments))
	}
}

func startServer(t *testing.T) (string, int) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := server.New(memory.New())
	srv.AllowInsecureAuth = true
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(func() { _ = srv.Close() })

	addr := listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func appendMessage(t *testing.T, host string, port int, raw string) {
	t.Helper()
	c, err := client.Dial(net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.Logout() }()
	if err := c.Login("username", "password"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := c.Append(inboxMailbox, nil, time.Now(), bytes.NewBufferString(raw)); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func findBySubject(messages []domain.MailMessage, subject string) *domain.MailMessage {
	for i := range messages {
		if messages[i].Subject == subject {
			return &messages[i]
		}
	}
	return nil
}

func TestSessionFetchesAndMarksSeen(t *testing.T) {
	host, port := startServer(t)
	appendMessage(t, host, port, multipartMessage)

	ctx := context.Background()
	session, err := New(5*time.Second).Open(ctx, domain.IMAPSettings{
		Host: host, Port: port, User: "username", Password: "password",
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer session.Close()

	messages, err := session.FetchUnseen(ctx)
	if err != nil {
		t.Fatalf("FetchUnseen() error = %v", err)
	}
	msg := findBySubject(messages, "Escaneo 0042")
	if msg == nil {
		t.Fatalf("appended message not returned: %+v", messages)
	}
	if msg.ParseErr != nil || len(msg.Attachments) != 2 {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if err := session.MarkSeen(ctx, msg.UID); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}
	again, err := session.FetchUnseen(ctx)
	if err != nil {
		t.Fatalf("FetchUnseen() error = %v", err)
	}
	if findBySubject(again, "Escaneo 0042") != nil {
		t.Fatalf("message still unseen after MarkSeen")
	}
}

func TestOpenRejectsBadCredentials(t *testing.T) {
	host, port := startServer(t)

	_, err := New(5*time.Second).Open(context.Background(), domain.IMAPSettings{
		Host: host, Port: port, User: "username", Password: "wrong",
	})
	if err == nil {
		t.Fatalf("expected login error")
	}
}
