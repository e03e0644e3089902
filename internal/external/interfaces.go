package external

import (
	"context"

	"adoptnotify/internal/types"
)

// EmailProvider transmits pre-rendered email content and returns the
// provider's message id.
type EmailProvider interface {
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}

// EmailEventVerifier checks the signature on an email event webhook call.
// It returns (false, nil) for a well-formed but wrong signature and an error
// when verification could not be attempted.
type EmailEventVerifier interface {
	Verify(payload []byte, signature, timestamp string) (bool, error)
}
