package delivery

import (
	"context"
	stdio "io"
	"log/slog"
	"testing"
	"time"

	"github.com/mailroomlabs/mailroom/mime"
	"github.com/mailroomlabs/mailroom/store"
)

func testPipeline(mem *store.Memory) *Pipeline {
	logger := slog.New(slog.NewTextHandler(stdio.Discard, nil))
	return New(mem, mem, mem, logger)
}

func testMessage() *mime.ParsedMessage {
	return &mime.ParsedMessage{
		Subject: "Hello",
		Body:    "body text",
		From:    store.EmailAddress{Email: "bob@remote.example", Name: "Bob"},
		Date:    time.Now(),
	}
}

func TestDeliverToKnownRecipient(t *testing.T) {
	mem := store.NewMemory()
	owner := mem.AddUser("alice@example.com")
	p := testPipeline(mem)

	err := p.Deliver(context.Background(), "bob@remote.example", []string{"alice@example.com"}, testMessage())
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	emails := mem.Emails(owner, "INBOX")
	if len(emails) != 1 {
		t.Fatalf("Expected 1 email, got %d", len(emails))
	}
	if emails[0].Subject != "Hello" {
		t.Errorf("Subject = %q", emails[0].Subject)
	}
	if emails[0].Status != store.StatusReceived {
		t.Errorf("Status = %q", emails[0].Status)
	}
}

func TestDeliverSkipsUnknownRecipients(t *testing.T) {
	mem := store.NewMemory()
	owner := mem.AddUser("alice@example.com")
	p := testPipeline(mem)

	recipients := []string{"nobody@example.com", "alice@example.com", "ghost@example.com"}
	err := p.Deliver(context.Background(), "bob@remote.example", recipients, testMessage())
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	if got := len(mem.Emails(owner, "INBOX")); got != 1 {
		t.Errorf("Expected 1 delivered email, got %d", got)
	}
}

func TestDeliverAddressesAreCaseInsensitive(t *testing.T) {
	mem := store.NewMemory()
	owner := mem.AddUser("Alice@Example.com")
	p := testPipeline(mem)

	err := p.Deliver(context.Background(), "bob@remote.example", []string{"ALICE@example.COM"}, testMessage())
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if got := len(mem.Emails(owner, "INBOX")); got != 1 {
		t.Errorf("Expected 1 delivered email, got %d", got)
	}
}

func TestDeliverPerOwnerAttachmentCopies(t *testing.T) {
	mem := store.NewMemory()
	alice := mem.AddUser("alice@example.com")
	carol := mem.AddUser("carol@example.com")
	p := testPipeline(mem)

	msg := testMessage()
	msg.Attachments = []mime.AttachmentPart{
		{Filename: "a.png", ContentType: "image/png", Data: []byte("png"), Size: 3},
	}

	recipients := []string{"alice@example.com", "carol@example.com"}
	if err := p.Deliver(context.Background(), "bob@remote.example", recipients, msg); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	for _, owner := range []store.UserID{alice, carol} {
		refs := mem.Attachments(owner)
		if len(refs) != 1 {
			t.Fatalf("Owner %s: expected 1 attachment, got %d", owner, len(refs))
		}
		if string(mem.AttachmentBytes(refs[0].ID)) != "png" {
			t.Errorf("Owner %s: attachment bytes lost", owner)
		}
		emails := mem.Emails(owner, "INBOX")
		if len(emails) != 1 || len(emails[0].Attachments) != 1 {
			t.Errorf("Owner %s: email missing attachment ref", owner)
		}
	}
}

func TestDeliverStopsOnExpiredContext(t *testing.T) {
	mem := store.NewMemory()
	mem.AddUser("alice@example.com")
	p := testPipeline(mem)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Deliver(ctx, "bob@remote.example", []string{"alice@example.com"}, testMessage())
	if err == nil {
		t.Fatal("Expected error from expired context")
	}
}
