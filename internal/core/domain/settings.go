package domain

import (
	"strings"
	"time"
)

// EmailSettingsKey is the Setting key holding the mailbox configuration.
const EmailSettingsKey = "email_config"

type IMAPSettings struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	TLS      bool   `json:"tls"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type EmailSettings struct {
	EmailEnabled bool         `json:"emailEnabled"`
	IMAP         IMAPSettings `json:"imap"`
}

// Ready reports whether polling should run with these settings.
func (s EmailSettings) Ready() bool {
	return s.EmailEnabled &&
		strings.TrimSpace(s.IMAP.Host) != "" &&
		strings.TrimSpace(s.IMAP.User) != ""
}

// PortOrDefault returns the configured port or the protocol default.
func (s IMAPSettings) PortOrDefault() int {
	if s.Port > 0 {
		return s.Port
	}
	if s.TLS {
		return 993
	}
	return 143
}

// MailMessage is one unseen message with its attachments already decoded.
type MailMessage struct {
	UID         uint32
	Subject     string
	Attachments []MailAttachment
	// ParseErr is set when the body could not be parsed as MIME.
	ParseErr error
}

type MailAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Notification struct {
	ID        string     `json:"id"`
	Audience  string     `json:"audience"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	ActionURL string     `json:"action_url"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

const AudienceAdmins = "admins"

// PollResult summarizes one email poll cycle.
type PollResult struct {
	Skipped  bool `json:"skipped"`
	Messages int  `json:"messages"`
	Saved    int  `json:"saved"`
	// BlockedUID is the message that failed to parse and stopped the cycle;
	// BlockedCycles counts consecutive cycles it has done so.
	BlockedUID    uint32 `json:"blocked_uid,omitempty"`
	BlockedCycles int    `json:"blocked_cycles,omitempty"`
}
