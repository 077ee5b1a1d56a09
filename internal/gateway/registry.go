package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"messaging-platform/internal/message"
)

// Factory builds a Driver for one configured gateway. The http.Client
// already carries the gateway's timeout.
type Factory func(gw Gateway, client *http.Client) (Driver, error)

// Registry resolves gateway configurations into ready drivers. Custom
// provider types can be registered before the server starts; registration
// is not synchronized.
type Registry struct {
	repo           Repository
	factories      map[Type]Factory
	defaultTimeout time.Duration
	clock          func() time.Time
}

func NewRegistry(repo Repository, defaultTimeout time.Duration) *Registry {
	r := &Registry{
		repo:           repo,
		factories:      map[Type]Factory{},
		defaultTimeout: defaultTimeout,
		clock:          time.Now,
	}
	r.Register(TypeTwilio, newTwilioDriver)
	r.Register(TypeTelegram, newTelegramDriver)
	r.Register(TypeMessenger, newMessengerDriver)
	r.Register(TypeWhatsApp, newWhatsAppDriver)
	r.Register(TypeGenericHTTP, newGenericDriver)
	return r
}

func (r *Registry) Register(t Type, f Factory) { r.factories[t] = f }

// Build constructs a driver for an already-loaded gateway row.
func (r *Registry) Build(gw Gateway) (Driver, error) {
	f, ok := r.factories[gw.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, gw.Type)
	}
	timeout := r.defaultTimeout
	if gw.TimeoutSeconds > 0 {
		timeout = time.Duration(gw.TimeoutSeconds) * time.Second
	}
	return f(gw, &http.Client{Timeout: timeout})
}

func (r *Registry) Resolve(ctx context.Context, gatewayID string) (Driver, Gateway, error) {
	gw, err := r.repo.GetByID(ctx, gatewayID)
	if err != nil {
		return nil, Gateway{}, err
	}
	d, err := r.Build(gw)
	return d, gw, err
}

// ResolveForChannel picks the sending gateway for a message with no
// explicit gateway override.
func (r *Registry) ResolveForChannel(ctx context.Context, ch message.Channel) (Driver, Gateway, error) {
	gw, err := r.repo.FindDefaultForChannel(ctx, ch)
	if err != nil {
		return nil, Gateway{}, err
	}
	d, err := r.Build(gw)
	return d, gw, err
}

// ResolveByType serves webhook URLs that name only a provider type.
func (r *Registry) ResolveByType(ctx context.Context, t Type) (Driver, Gateway, error) {
	gw, err := r.repo.FindByType(ctx, t)
	if err != nil {
		return nil, Gateway{}, err
	}
	d, err := r.Build(gw)
	return d, gw, err
}

// RefreshBalances polls every active gateway whose provider exposes a
// balance and stores the result. Errors are collected per gateway so one
// flaky provider does not starve the rest.
func (r *Registry) RefreshBalances(ctx context.Context) map[string]error {
	gws, err := r.repo.ListActive(ctx)
	if err != nil {
		return map[string]error{"": err}
	}
	failures := map[string]error{}
	for _, gw := range gws {
		d, err := r.Build(gw)
		if err != nil {
			failures[gw.ID] = err
			continue
		}
		bal, ok, err := d.FetchBalance(ctx)
		if err != nil {
			failures[gw.ID] = err
			continue
		}
		if !ok {
			continue
		}
		if err := r.repo.UpdateBalance(ctx, gw.ID, bal, r.clock()); err != nil {
			failures[gw.ID] = err
		}
	}
	return failures
}
