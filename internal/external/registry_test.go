package external

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	"adoptnotify/internal/config"
	"adoptnotify/internal/types"
)

func registryTestConfig() *config.Config {
	cfg := &config.Config{Environment: "prod"}
	cfg.Upstream.BaseURL = "https://service.sheltermanager.com/asmservice"
	cfg.Upstream.Account = "hh0001"
	cfg.Email.Provider = "sendgrid"
	cfg.Email.SendGridAPIKey = "SG.test"
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewClientRegistry_ProviderSelection(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		provider    string
		check       func(EmailProvider) bool
	}{
		{"sendgrid default", "prod", "sendgrid", func(p EmailProvider) bool { _, ok := p.(*SendGridClient); return ok }},
		{"ses", "prod", "ses", func(p EmailProvider) bool { _, ok := p.(*SESClient); return ok }},
		{"local uses stub", "local", "sendgrid", func(p EmailProvider) bool { _, ok := p.(*StubEmailProvider); return ok }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := registryTestConfig()
			cfg.Environment = tt.environment
			cfg.Email.Provider = tt.provider

			reg, err := NewClientRegistry(cfg, aws.Config{Region: "ap-southeast-2"}, discardLogger())
			if err != nil {
				t.Fatalf("NewClientRegistry: %v", err)
			}
			if !tt.check(reg.Email) {
				t.Errorf("unexpected provider %T", reg.Email)
			}
			if reg.ASM == nil {
				t.Error("ASM client not built")
			}
			if reg.EmailVerifier != nil {
				t.Error("verifier built without a public key")
			}
		})
	}
}

func TestNewClientRegistry_Verifier(t *testing.T) {
	_, pub := generateTestKey(t)
	cfg := registryTestConfig()
	cfg.Email.WebhookPublicKey = types.SecretString(pub)

	reg, err := NewClientRegistry(cfg, aws.Config{}, discardLogger())
	if err != nil {
		t.Fatalf("NewClientRegistry: %v", err)
	}
	if _, ok := reg.EmailVerifier.(*SendGridVerifier); !ok {
		t.Errorf("verifier = %T", reg.EmailVerifier)
	}
}

func TestNewClientRegistry_BadPublicKey(t *testing.T) {
	cfg := registryTestConfig()
	cfg.Email.WebhookPublicKey = "not-a-key"

	if _, err := NewClientRegistry(cfg, aws.Config{}, discardLogger()); err == nil {
		t.Fatal("expected error for malformed public key")
	}
}

func TestStubEmailProvider_Send(t *testing.T) {
	p := NewStubEmailProvider(discardLogger())
	id, err := p.Send(context.Background(), types.SendInput{To: "jane@example.com", Subject: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasPrefix(id, "stub-") {
		t.Errorf("id = %q", id)
	}
}
