package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mailroomlabs/mailroom/utils"
)

// Memory is an in-process implementation of all three collaborator
// interfaces, used in development mode and in tests. A single mutex
// guards all maps; the protocol core only ever reaches it through the
// interface types.
type Memory struct {
	mu          sync.Mutex
	users       map[string]UserID
	emails      map[UserID]map[string][]*PersistedEmail
	attachments map[UserID][]*AttachmentRef
	blobs       map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[string]UserID),
		emails:      make(map[UserID]map[string][]*PersistedEmail),
		attachments: make(map[UserID][]*AttachmentRef),
		blobs:       make(map[string][]byte),
	}
}

// AddUser registers a local account for the given address and returns
// its id. Addresses are matched case-insensitively.
func (m *Memory) AddUser(address string) UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := UserID(utils.GenerateID())
	m.users[strings.ToLower(address)] = id
	return id
}

// LookupUserByEmail implements UserLookup.
func (m *Memory) LookupUserByEmail(ctx context.Context, address string) (UserID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.users[strings.ToLower(address)]; ok {
		return id, nil
	}
	return "", ErrUserNotFound
}

// CreateEmail implements EmailStore. Received messages land in INBOX.
func (m *Memory) CreateEmail(ctx context.Context, data EmailData, owner UserID) (*PersistedEmail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	mailbox := "INBOX"
	switch data.Status {
	case StatusSent:
		mailbox = "Sent"
	case StatusDraft:
		mailbox = "Drafts"
	}

	email := &PersistedEmail{
		ID:        utils.GenerateID(),
		Owner:     owner,
		Mailbox:   mailbox,
		EmailData: data,
		CreatedAt: time.Now(),
	}
	if m.emails[owner] == nil {
		m.emails[owner] = make(map[string][]*PersistedEmail)
	}
	m.emails[owner][mailbox] = append(m.emails[owner][mailbox], email)
	return email, nil
}

// GetEmailsForMailbox implements EmailStore.
func (m *Memory) GetEmailsForMailbox(ctx context.Context, owner UserID, mailbox string) ([]EmailSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	emails := m.emails[owner][mailbox]
	summaries := make([]EmailSummary, 0, len(emails))
	for _, e := range emails {
		summaries = append(summaries, EmailSummary{
			ID:         e.ID,
			Subject:    e.Subject,
			From:       e.From,
			IsRead:     e.IsRead,
			ReceivedAt: e.ReceivedAt,
		})
	}
	return summaries, nil
}

// SaveAttachment implements AttachmentStore. Bytes are retained so
// tests can verify round-trips; the URL is a synthetic handle.
func (m *Memory) SaveAttachment(ctx context.Context, filename, contentType string, data []byte, owner UserID) (*AttachmentRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := &AttachmentRef{
		ID:          utils.GenerateID(),
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
	}
	ref.URL = "memory://attachments/" + ref.ID
	m.attachments[owner] = append(m.attachments[owner], ref)
	m.blobs[ref.ID] = append([]byte(nil), data...)
	return ref, nil
}

// MarkRead flags a stored email as read. Test helper.
func (m *Memory) MarkRead(owner UserID, mailbox, emailID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.emails[owner][mailbox] {
		if e.ID == emailID {
			e.IsRead = true
		}
	}
}

// Emails returns the stored emails for one owner and mailbox. Test helper.
func (m *Memory) Emails(owner UserID, mailbox string) []*PersistedEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*PersistedEmail(nil), m.emails[owner][mailbox]...)
}

// Attachments returns the stored attachment refs for one owner. Test helper.
func (m *Memory) Attachments(owner UserID) []*AttachmentRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*AttachmentRef(nil), m.attachments[owner]...)
}

// AttachmentBytes returns the stored bytes for an attachment id. Test helper.
func (m *Memory) AttachmentBytes(id string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobs[id]
}
