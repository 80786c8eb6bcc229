package provider

import (
	"context"

	appErrors "github.com/mailkite/mailkite-backend/internal/errors"
)

// StubProvider is a registered-but-unwired vendor slot (Sendgrid, Mailgun,
// SES). Send fails with a recognizable provider-unconfigured error until the
// vendor API is wired in; callers must surface that instead of swallowing it.
type StubProvider struct {
	name string
}

func NewStubProvider(name string) *StubProvider {
	return &StubProvider{name: name}
}

func (p *StubProvider) Name() string { return p.name }

func (p *StubProvider) IsConfigured() bool { return false }

func (p *StubProvider) Send(ctx context.Context, msg *Message) error {
	return appErrors.NewProviderUnconfigured(p.name)
}

func (p *StubProvider) Test(ctx context.Context) error {
	return appErrors.NewProviderUnconfigured(p.name)
}
