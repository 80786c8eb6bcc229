package appErrors

import (
	"errors"
	"fmt"
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrContactNotFound is returned when a contact lookup misses.
type ErrContactNotFound struct {
	ContactID int
}

func (e *ErrContactNotFound) Error() string {
	return fmt.Sprintf("contact with ID %d not found", e.ContactID)
}

func NewContactNotFound(id int) error {
	return &ErrContactNotFound{ContactID: id}
}

// ErrInvalidState rejects an illegal campaign lifecycle transition.
type ErrInvalidState struct {
	CampaignID int
	Current    string
	Attempted  string
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("campaign %d cannot %s while %s", e.CampaignID, e.Attempted, e.Current)
}

func NewInvalidState(campaignID int, current, attempted string) error {
	return &ErrInvalidState{CampaignID: campaignID, Current: current, Attempted: attempted}
}

// ErrNoRecipients aborts a send whose resolved recipient set is empty.
type ErrNoRecipients struct {
	CampaignID int
}

func (e *ErrNoRecipients) Error() string {
	return fmt.Sprintf("campaign %d resolved zero eligible recipients", e.CampaignID)
}

func NewNoRecipients(campaignID int) error {
	return &ErrNoRecipients{CampaignID: campaignID}
}

// ErrUnknownProvider is returned when a send names a provider that was
// never registered at startup.
type ErrUnknownProvider struct {
	Name string
}

func (e *ErrUnknownProvider) Error() string {
	return fmt.Sprintf("no delivery provider registered under %q", e.Name)
}

func NewUnknownProvider(name string) error {
	return &ErrUnknownProvider{Name: name}
}

// ErrProviderUnconfigured marks a registered provider that has no usable
// credentials. Stub providers for unwired vendors return this from Send; it
// must stay recognizable rather than being swallowed as a generic failure.
type ErrProviderUnconfigured struct {
	Name string
}

func (e *ErrProviderUnconfigured) Error() string {
	return fmt.Sprintf("delivery provider %q is not configured", e.Name)
}

func NewProviderUnconfigured(name string) error {
	return &ErrProviderUnconfigured{Name: name}
}

// ErrProviderSend is a per-message delivery failure. It is contained to one
// ledger entry and never escalates past the dispatch loop.
type ErrProviderSend struct {
	Provider string
	Reason   string
}

func (e *ErrProviderSend) Error() string {
	return fmt.Sprintf("provider %s send failed: %s", e.Provider, e.Reason)
}

func NewProviderSend(provider, reason string) error {
	return &ErrProviderSend{Provider: provider, Reason: reason}
}

// ErrRateLimitTimeout is returned when a token wait exceeded its bound.
type ErrRateLimitTimeout struct {
	TenantID int
}

func (e *ErrRateLimitTimeout) Error() string {
	return fmt.Sprintf("rate limit token wait timed out for tenant %d", e.TenantID)
}

func NewRateLimitTimeout(tenantID int) error {
	return &ErrRateLimitTimeout{TenantID: tenantID}
}

// ErrPersistence wraps a ledger/storage failure. Fatal to the current
// operation; callers must surface it, never drop it.
type ErrPersistence struct {
	Op  string
	Err error
}

func (e *ErrPersistence) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *ErrPersistence) Unwrap() error { return e.Err }

func NewPersistence(op string, err error) error {
	return &ErrPersistence{Op: op, Err: err}
}

// IsInvalidState reports whether err is an ErrInvalidState.
func IsInvalidState(err error) bool {
	var e *ErrInvalidState
	return errors.As(err, &e)
}

// IsNoRecipients reports whether err is an ErrNoRecipients.
func IsNoRecipients(err error) bool {
	var e *ErrNoRecipients
	return errors.As(err, &e)
}

// IsProviderUnconfigured reports whether err is an ErrProviderUnconfigured.
func IsProviderUnconfigured(err error) bool {
	var e *ErrProviderUnconfigured
	return errors.As(err, &e)
}
