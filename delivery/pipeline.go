// Package delivery resolves envelope recipients to local accounts and
// persists parsed messages and their attachments through the
// collaborator stores. Partial delivery across recipients is the
// expected behavior: one bad recipient never blocks the others.
package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/mailroomlabs/mailroom/metrics"
	"github.com/mailroomlabs/mailroom/mime"
	"github.com/mailroomlabs/mailroom/store"
)

// Source supplies raw attachment bytes regardless of origin: a
// MIME-derived part and a freshly uploaded file implement the same
// interface and persist through the same path.
type Source interface {
	ReadBytes() ([]byte, error)
	Name() string
	MediaType() string
}

// Pipeline persists received messages per resolved recipient.
type Pipeline struct {
	Users       store.UserLookup
	Emails      store.EmailStore
	Attachments store.AttachmentStore
	Logger      *slog.Logger

	// LookupTimeout bounds each individual user lookup inside the
	// caller's overall delivery budget.
	LookupTimeout time.Duration
}

// New creates a pipeline over the given collaborator stores.
func New(users store.UserLookup, emails store.EmailStore, attachments store.AttachmentStore, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Users:         users,
		Emails:        emails,
		Attachments:   attachments,
		Logger:        logger,
		LookupTimeout: 5 * time.Second,
	}
}

// Deliver resolves each envelope recipient and stores the message for
// every one that maps to a local account. Unresolvable recipients are
// logged and skipped. Each recipient gets its own stored attachment
// copies, since the stores are scoped per owner. Returns an error only
// when the context expires; partial delivery is success.
func (p *Pipeline) Deliver(ctx context.Context, sender string, recipients []string, msg *mime.ParsedMessage) error {
	for _, rcpt := range recipients {
		if err := ctx.Err(); err != nil {
			metrics.DeliveriesTotal.WithLabelValues("timeout").Inc()
			return err
		}

		owner, err := p.resolve(ctx, rcpt)
		if err != nil {
			p.Logger.Warn("recipient skipped",
				slog.String("recipient", rcpt),
				slog.Any("error", err),
			)
			metrics.DeliveriesTotal.WithLabelValues("skipped").Inc()
			continue
		}

		refs := p.saveAttachments(ctx, owner, msg.Attachments)

		data := store.EmailData{
			Subject:     msg.Subject,
			Body:        msg.Body,
			HTMLBody:    msg.HTMLBody,
			From:        msg.From,
			To:          msg.To,
			Cc:          msg.Cc,
			Status:      store.StatusReceived,
			ReceivedAt:  msg.Date,
			Attachments: refs,
		}

		email, err := p.Emails.CreateEmail(ctx, data, owner)
		if err != nil {
			p.Logger.Warn("email persist failed",
				slog.String("recipient", rcpt),
				slog.Any("error", err),
			)
			metrics.DeliveriesTotal.WithLabelValues("error").Inc()
			continue
		}

		p.Logger.Info("message delivered",
			slog.String("email_id", email.ID),
			slog.String("recipient", rcpt),
			slog.String("sender", sender),
			slog.String("subject", msg.Subject),
			slog.Int("attachments", len(refs)),
		)
		metrics.DeliveriesTotal.WithLabelValues("delivered").Inc()
	}
	return nil
}

// resolve looks up a recipient address under the per-lookup timeout.
func (p *Pipeline) resolve(ctx context.Context, address string) (store.UserID, error) {
	timeout := p.LookupTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Users.LookupUserByEmail(lctx, address)
}

// saveAttachments persists attachment parts for one owner. A failed
// attachment is logged and skipped; the message itself is still stored.
func (p *Pipeline) saveAttachments(ctx context.Context, owner store.UserID, parts []mime.AttachmentPart) []store.AttachmentRef {
	if len(parts) == 0 {
		return nil
	}
	refs := make([]store.AttachmentRef, 0, len(parts))
	for _, part := range parts {
		ref, err := p.saveSource(ctx, owner, part)
		if err != nil {
			p.Logger.Warn("attachment persist failed",
				slog.String("filename", part.Filename),
				slog.Any("error", err),
			)
			continue
		}
		refs = append(refs, *ref)
	}
	return refs
}

// saveSource persists one attachment source.
func (p *Pipeline) saveSource(ctx context.Context, owner store.UserID, src Source) (*store.AttachmentRef, error) {
	data, err := src.ReadBytes()
	if err != nil {
		return nil, err
	}
	return p.Attachments.SaveAttachment(ctx, src.Name(), src.MediaType(), data, owner)
}
