package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"messaging-platform/internal/message"
)

func TestRegistry_ResolveForChannel(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Put(Gateway{
		ID: "gw-backup", Type: TypeGenericHTTP, Channel: message.ChannelSMS, Active: true,
		Credentials: map[string]string{"endpoint": "https://sms.example/send", "param_to": "to", "param_body": "text"},
	})
	repo.Put(Gateway{
		ID: "gw-main", Type: TypeTwilio, Channel: message.ChannelSMS, Active: true, IsDefault: true,
		Credentials: map[string]string{"account_sid": "AC1", "auth_token": "tok"},
	})
	reg := NewRegistry(repo, 10*time.Second)

	d, gw, err := reg.ResolveForChannel(context.Background(), message.ChannelSMS)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if gw.ID != "gw-main" || d.Type() != TypeTwilio {
		t.Fatalf("expected default gw-main/twilio, got %s/%s", gw.ID, d.Type())
	}

	if _, _, err := reg.ResolveForChannel(context.Background(), message.ChannelTelegram); !errors.Is(err, ErrGatewayNotFound) {
		t.Fatalf("expected ErrGatewayNotFound, got %v", err)
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Put(Gateway{ID: "gw1", Type: "smoke_signal", Channel: message.ChannelSMS, Active: true})
	reg := NewRegistry(repo, time.Second)

	if _, _, err := reg.Resolve(context.Background(), "gw1"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestQuotaUnitWindow(t *testing.T) {
	if w, ok := QuotaPerMinute.Window(); !ok || w != time.Minute {
		t.Fatalf("minute window: %v %v", w, ok)
	}
	if _, ok := QuotaUnit("fortnight").Window(); ok {
		t.Fatalf("unknown unit must not resolve")
	}
}
