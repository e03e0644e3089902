package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/google/uuid"

	"adoptnotify/internal/config"
	"adoptnotify/internal/types"
)

// ClientRegistry holds the external clients built from configuration.
type ClientRegistry struct {
	Email EmailProvider
	// EmailVerifier is nil when no webhook public key is configured.
	EmailVerifier EmailEventVerifier
	ASM           *ASMClient
}

// NewClientRegistry builds every client. With APP_ENV=local the email
// provider is a stub that only logs, so the poller can run end to end
// without credentials. EMAIL_PROVIDER selects SendGrid or SES otherwise.
func NewClientRegistry(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := &ClientRegistry{}

	reg.ASM = NewASMClient(&http.Client{Timeout: upstreamTimeout(cfg)}, ASMClientConfig{
		BaseURL:      cfg.Upstream.BaseURL,
		Account:      cfg.Upstream.Account,
		Username:     cfg.Upstream.Username,
		Password:     cfg.Upstream.Password.Unmask(),
		ImageBaseURL: cfg.Upstream.ImageBaseURL,
		Logger:       logger.With("client", "asm"),
	})

	switch {
	case cfg.Environment == "local":
		logger.Info("email provider in stub mode", "environment", cfg.Environment)
		reg.Email = NewStubEmailProvider(logger.With("mode", "stub"))
	case cfg.Email.Provider == "ses":
		reg.Email = NewSESClient(awsCfg, SESClientConfig{
			ConfigSetName: cfg.Email.SESConfigSet,
			Logger:        logger.With("client", "ses"),
		})
	default:
		reg.Email = NewSendGridClient(&http.Client{Timeout: 10 * time.Second}, SendGridClientConfig{
			APIKey:  cfg.Email.SendGridAPIKey.Unmask(),
			BaseURL: cfg.Email.SendGridBaseURL,
			Logger:  logger.With("client", "sendgrid"),
		})
	}

	if cfg.Email.WebhookPublicKey.IsSet() {
		v, err := NewSendGridVerifier(cfg.Email.WebhookPublicKey.Unmask())
		if err != nil {
			return nil, fmt.Errorf("creating sendgrid verifier: %w", err)
		}
		reg.EmailVerifier = v
	} else {
		logger.Warn("SENDGRID_WEBHOOK_PUBLIC_KEY not set; email event signatures will not be verified")
	}

	return reg, nil
}

func upstreamTimeout(cfg *config.Config) time.Duration {
	if cfg.Upstream.Timeout > 0 {
		return cfg.Upstream.Timeout
	}
	return 30 * time.Second
}

// StubEmailProvider logs sends instead of transmitting them.
type StubEmailProvider struct {
	logger *slog.Logger
}

// NewStubEmailProvider creates a StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	return &StubEmailProvider{logger: logger}
}

// Send logs the envelope and returns a synthetic message id.
func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	id := "stub-" + uuid.NewString()
	s.logger.InfoContext(ctx, "stub email send",
		"subject", input.Subject,
		"categories", input.Categories,
		"reference_id", input.ReferenceID,
		"message_id", id,
	)
	return id, nil
}
