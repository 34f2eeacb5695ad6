// Package store defines the collaborator interfaces the protocol core
// delivers through: user lookup, email persistence and attachment
// persistence. The real implementations live in external services; the
// Memory implementation in this package backs development and tests.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned by LookupUserByEmail when no local
// account owns the address.
var ErrUserNotFound = errors.New("store: user not found")

// UserID identifies a local mailbox owner.
type UserID string

// Status is the lifecycle status of a stored email.
type Status string

const (
	StatusReceived Status = "RECEIVED"
	StatusSent     Status = "SENT"
	StatusDraft    Status = "DRAFT"
)

// EmailAddress is a parsed mailbox address with an optional display name.
type EmailAddress struct {
	Email string
	Name  string
}

// AttachmentRef describes a persisted attachment: storage identity plus
// the metadata recorded alongside the owning email.
type AttachmentRef struct {
	ID          string
	Filename    string
	ContentType string
	Size        int64
	URL         string
}

// EmailData is the message payload handed to CreateEmail.
type EmailData struct {
	Subject     string
	Body        string
	HTMLBody    string
	From        EmailAddress
	To          []EmailAddress
	Cc          []EmailAddress
	Status      Status
	ReceivedAt  time.Time
	Attachments []AttachmentRef
}

// PersistedEmail is a stored email record.
type PersistedEmail struct {
	ID      string
	Owner   UserID
	Mailbox string
	EmailData
	IsRead    bool
	CreatedAt time.Time
}

// EmailSummary is the listing view used by IMAP SELECT to compute
// EXISTS and UNSEEN counts.
type EmailSummary struct {
	ID         string
	Subject    string
	From       EmailAddress
	IsRead     bool
	ReceivedAt time.Time
}

// UserLookup resolves recipient addresses to local accounts. Lookups
// are bounded by the caller's context.
type UserLookup interface {
	LookupUserByEmail(ctx context.Context, address string) (UserID, error)
}

// EmailStore persists and lists emails per owner and mailbox.
type EmailStore interface {
	CreateEmail(ctx context.Context, data EmailData, owner UserID) (*PersistedEmail, error)
	GetEmailsForMailbox(ctx context.Context, owner UserID, mailbox string) ([]EmailSummary, error)
}

// AttachmentStore persists attachment bytes, scoped per owner.
type AttachmentStore interface {
	SaveAttachment(ctx context.Context, filename, contentType string, data []byte, owner UserID) (*AttachmentRef, error)
}
