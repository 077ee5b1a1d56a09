package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTelegramSend(t *testing.T) {
	var gotPath string
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		io.WriteString(w, `{"ok":true,"result":{"message_id":42,"chat":{"id":100200}}}`)
	}))
	defer srv.Close()

	d, err := newTelegramDriver(Gateway{
		ID:          "gw1",
		Credentials: map[string]string{"bot_token": "123:abc", "bot_username": "acme_bot"},
	}, http.DefaultClient)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	tg := d.(*telegramDriver)
	tg.baseURL = srv.URL

	res, err := tg.Send(context.Background(), SendRequest{To: "100200", Body: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ProviderMessageID != "100200:42" {
		t.Fatalf("provider id = %q", res.ProviderMessageID)
	}
	if gotPath != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if !strings.Contains(gotBody, `"chat_id":"100200"`) || !strings.Contains(gotBody, `"text":"hi"`) {
		t.Fatalf("body = %s", gotBody)
	}
}

func TestTelegramSend_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"ok":false,"error_code":403,"description":"bot was blocked by the user"}`)
	}))
	defer srv.Close()

	d, _ := newTelegramDriver(Gateway{ID: "gw1", Credentials: map[string]string{"bot_token": "t"}}, http.DefaultClient)
	tg := d.(*telegramDriver)
	tg.baseURL = srv.URL

	_, err := tg.Send(context.Background(), SendRequest{To: "1", Body: "x"})
	if err == nil || !strings.Contains(err.Error(), "blocked") {
		t.Fatalf("expected provider rejection, got %v", err)
	}
}

func TestTelegramVerifyWebhook(t *testing.T) {
	d, _ := newTelegramDriver(Gateway{
		ID:           "gw1",
		WebhookToken: "hook-secret",
		Credentials:  map[string]string{"bot_token": "t"},
	}, http.DefaultClient)

	meta := WebhookMeta{Headers: http.Header{}}
	meta.Headers.Set("X-Telegram-Bot-Api-Secret-Token", "hook-secret")
	if !d.VerifyWebhook(meta, nil) {
		t.Fatalf("valid secret rejected")
	}
	meta.Headers.Set("X-Telegram-Bot-Api-Secret-Token", "wrong")
	if d.VerifyWebhook(meta, nil) {
		t.Fatalf("wrong secret accepted")
	}

	// No configured secret means no callback can be authenticated.
	bare, _ := newTelegramDriver(Gateway{ID: "gw2", Credentials: map[string]string{"bot_token": "t"}}, http.DefaultClient)
	if bare.VerifyWebhook(WebhookMeta{Headers: http.Header{}}, nil) {
		t.Fatalf("callback accepted without a configured secret")
	}
}

func TestTelegramParseInbound(t *testing.T) {
	d, _ := newTelegramDriver(Gateway{
		ID:          "gw1",
		Credentials: map[string]string{"bot_token": "t", "bot_username": "acme_bot"},
	}, http.DefaultClient)

	update := []byte(`{"update_id":9,"message":{"message_id":7,"chat":{"id":100200,"type":"private"},"text":"STOP"}}`)
	in, ok := d.ParseInbound(update)
	if !ok || len(in) != 1 {
		t.Fatalf("inbound = %v %v", in, ok)
	}
	if in[0].From != "100200" || in[0].To != "acme_bot" || in[0].Body != "STOP" {
		t.Fatalf("inbound = %+v", in[0])
	}
	if in[0].ProviderMessageID != "100200:7" {
		t.Fatalf("provider id = %q", in[0].ProviderMessageID)
	}

	if _, ok := d.ParseInbound([]byte(`{"update_id":10,"callback_query":{}}`)); ok {
		t.Fatalf("non-message update must not parse as inbound")
	}
	if _, ok := d.ParseDLR(update); ok {
		t.Fatalf("telegram has no DLRs")
	}
}
