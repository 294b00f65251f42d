package external

import (
	"context"

	"eventdigest/internal/types"
)

// ---------------------------------------------------------------------------
// Contacts (Resend Audiences)
// ---------------------------------------------------------------------------

// RecipientDirectory lists the subscribers of a contact segment.
type RecipientDirectory interface {
	// ListRecipients returns the email addresses of eligible contacts in
	// segmentID, in the order the provider lists them. Failures carry
	// types.ErrCodeUpstreamContacts.
	ListRecipients(ctx context.Context, segmentID string) ([]string, error)
}

// ContactRegistrar adds a new subscriber to the contact store.
type ContactRegistrar interface {
	// CreateContact registers email as a subscribed contact.
	CreateContact(ctx context.Context, email string) error
}

// ---------------------------------------------------------------------------
// Events feed
// ---------------------------------------------------------------------------

// EventFeed fetches the site's events grouped by day.
type EventFeed interface {
	// FetchEvents returns every day the feed publishes. Failures carry
	// types.ErrCodeUpstreamFeed.
	FetchEvents(ctx context.Context, siteURL string) (types.EventsByDay, error)
}

// ---------------------------------------------------------------------------
// Email delivery (Resend)
// ---------------------------------------------------------------------------

// Message is one outbound email with pre-rendered HTML content.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Mailer transmits a single email.
type Mailer interface {
	// SendEmail sends msg and returns the provider's message ID.
	SendEmail(ctx context.Context, msg Message) (string, error)
}
