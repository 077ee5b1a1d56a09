package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-platform/internal/gateway"
	"messaging-platform/internal/ledger"
	"messaging-platform/internal/message"
	"messaging-platform/internal/optout"
	"messaging-platform/internal/senderid"
)

func newTestRouter(t *testing.T, driver *fakeDriver, gwType gateway.Type) (*gin.Engine, *MemoryInbox) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	inbox := NewMemoryInbox()
	gwRepo := gateway.NewMemoryRepo()
	gwRepo.Put(gateway.Gateway{
		ID: "gw1", Type: gwType, Channel: message.ChannelSMS, Active: true,
		WebhookToken: "verify-me",
	})
	registry := gateway.NewRegistry(gwRepo, time.Second)
	registry.Register(gwType, func(gw gateway.Gateway, c *http.Client) (gateway.Driver, error) {
		return driver, nil
	})

	processor := NewProcessor(
		inbox, registry, message.NewMemoryRepo(),
		ledger.NewService(ledger.NewMemoryStore(), ledger.ModeCredit),
		optout.NewRegistry(optout.NewMemoryRepo()),
		senderid.NewMemoryRepo(), "system",
	)
	h := NewHandler(inbox, processor, registry)

	r := gin.New()
	r.POST("/webhook", h.Receive)
	r.GET("/webhook", h.Verify)
	return r, inbox
}

func TestReceive_TwilioResponseShape(t *testing.T) {
	driver := &fakeDriver{verify: true}
	router, _ := newTestRouter(t, driver, gateway.TypeTwilio)

	req := httptest.NewRequest(http.MethodPost, "/webhook?gateway=twilio&gw_id=gw1",
		strings.NewReader("MessageSid=SM1&MessageStatus=delivered"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/xml") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "<Response></Response>") {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestReceive_BadSignature(t *testing.T) {
	driver := &fakeDriver{verify: false}
	router, inbox := newTestRouter(t, driver, "fake")

	req := httptest.NewRequest(http.MethodPost, "/webhook?gateway=fake", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	// The raw entry is still stored for audit, but never processed.
	pending, err := inbox.ListUnprocessed(context.Background(), 10, 0)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v err=%v", pending, err)
	}
}

func TestReceive_JSONResponseForOtherProviders(t *testing.T) {
	driver := &fakeDriver{verify: true}
	router, _ := newTestRouter(t, driver, "fake")

	req := httptest.NewRequest(http.MethodPost, "/webhook?gateway=fake", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestReceive_MissingGatewayParams(t *testing.T) {
	driver := &fakeDriver{verify: true}
	router, _ := newTestRouter(t, driver, "fake")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestVerify_HubChallenge(t *testing.T) {
	driver := &fakeDriver{verify: true}
	router, _ := newTestRouter(t, driver, "fake")

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?gateway=fake&hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "12345" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet,
		"/webhook?gateway=fake&hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}
