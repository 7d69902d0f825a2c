// Package provider contains the delivery adapters that hand rendered messages
// to external channels (WhatsApp Cloud API, Twilio, SendGrid, SES). Adapters
// are stateless: retry scheduling and status persistence live with the
// dispatcher, not here.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/docshare/portal-messaging/internal/outbound"
)

// Result is what a successful send returns: the provider's message identifier
// (used later to correlate delivery webhooks) plus any metadata worth keeping
// on the row.
type Result struct {
	ProviderMessageID string
	Metadata          map[string]any
}

// Provider sends one message over one channel. Implementations must respect
// ctx deadlines; the dispatcher wraps every call in a timeout.
type Provider interface {
	Name() string
	Send(ctx context.Context, m outbound.Message) (Result, error)
}

// Error distinguishes permanent rejections (bad recipient, invalid template,
// auth failure) from transient ones. Permanent errors stop the retry loop.
type Error struct {
	Provider  string
	Permanent bool
	Detail    string
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("provider %s: %s error: %s", e.Provider, kind, e.Detail)
}

// IsPermanent reports whether err is a provider rejection that retrying
// cannot fix.
func IsPermanent(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Permanent
}

// permanentStatus reports whether an HTTP status from a provider API marks
// the request as unretryable. 429 is the one 4xx worth retrying.
func permanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != 429
}
