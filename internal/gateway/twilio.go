package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"messaging-platform/internal/message"
)

// twilioDriver speaks the Twilio Messages API. Credentials:
//
//	account_sid  account identifier, also the basic-auth user
//	auth_token   basic-auth password and webhook signing key
//
// The same driver serves SMS and WhatsApp gateways; WhatsApp addresses get
// the "whatsapp:" scheme prefix on the wire.
type twilioDriver struct {
	gw      Gateway
	client  *http.Client
	baseURL string
}

func newTwilioDriver(gw Gateway, client *http.Client) (Driver, error) {
	if gw.Cred("account_sid") == "" || gw.Cred("auth_token") == "" {
		return nil, fmt.Errorf("gateway %s: twilio requires account_sid and auth_token", gw.ID)
	}
	return &twilioDriver{gw: gw, client: client, baseURL: "https://api.twilio.com"}, nil
}

func (d *twilioDriver) Type() Type { return TypeTwilio }

func (d *twilioDriver) addr(a string) string {
	if d.gw.Channel == message.ChannelWhatsApp && !strings.HasPrefix(a, "whatsapp:") {
		return "whatsapp:" + a
	}
	return a
}

func (d *twilioDriver) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	form := url.Values{}
	form.Set("To", d.addr(req.To))
	form.Set("From", d.addr(req.SenderID))
	form.Set("Body", req.Body)
	if req.MediaRef != "" {
		form.Set("MediaUrl", req.MediaRef)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", d.baseURL, d.gw.Cred("account_sid"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SendResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(d.gw.Cred("account_sid"), d.gw.Cred("auth_token"))

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return SendResult{}, transportErr(TypeTwilio, err)
	}
	defer resp.Body.Close()

	var body struct {
		Sid     string `json:"sid"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return SendResult{}, transportErr(TypeTwilio, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{}, &ProviderError{
			Provider: TypeTwilio,
			Code:     strconv.Itoa(body.Code),
			Message:  body.Message,
		}
	}
	return SendResult{ProviderMessageID: body.Sid}, nil
}

func (d *twilioDriver) FetchBalance(ctx context.Context) (float64, bool, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Balance.json", d.baseURL, d.gw.Cred("account_sid"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, false, err
	}
	httpReq.SetBasicAuth(d.gw.Cred("account_sid"), d.gw.Cred("auth_token"))

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return 0, false, transportErr(TypeTwilio, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("gateway: twilio balance status %d", resp.StatusCode)
	}

	var body struct {
		Balance string `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, false, err
	}
	bal, err := strconv.ParseFloat(body.Balance, 64)
	if err != nil {
		return 0, false, fmt.Errorf("gateway: twilio balance %q: %w", body.Balance, err)
	}
	return bal, true, nil
}

// VerifyWebhook implements Twilio's request signing: the signature is
// base64(HMAC-SHA1(auth_token, url + concat(sorted form keys+values))).
func (d *twilioDriver) VerifyWebhook(meta WebhookMeta, rawBody []byte) bool {
	form, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return false
	}
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(meta.URL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(d.gw.Cred("auth_token")))
	io.WriteString(mac, b.String())
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	got := meta.Headers.Get("X-Twilio-Signature")
	return got != "" && hmac.Equal([]byte(want), []byte(got))
}

func (d *twilioDriver) ParseDLR(rawBody []byte) ([]DLRResult, bool) {
	form, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return nil, false
	}
	raw := form.Get("MessageStatus")
	if raw == "" {
		raw = form.Get("SmsStatus")
	}
	sid := form.Get("MessageSid")
	if sid == "" {
		sid = form.Get("SmsSid")
	}
	// Inbound messages arrive with SmsStatus=received; not a receipt.
	if raw == "" || strings.EqualFold(raw, "received") || sid == "" {
		return nil, false
	}

	st, _ := NormalizeStatus(raw)
	var errMsg string
	if code := form.Get("ErrorCode"); code != "" && code != "0" {
		errMsg = "provider error " + code
	}
	return []DLRResult{{
		ProviderMessageID: sid,
		Status:            st,
		RawStatus:         raw,
		Error:             errMsg,
	}}, true
}

func (d *twilioDriver) ParseInbound(rawBody []byte) ([]InboundResult, bool) {
	form, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return nil, false
	}
	raw := form.Get("MessageStatus")
	if raw == "" {
		raw = form.Get("SmsStatus")
	}
	if raw != "" && !strings.EqualFold(raw, "received") {
		return nil, false
	}
	from, to := form.Get("From"), form.Get("To")
	if from == "" || form.Get("MessageSid") == "" {
		return nil, false
	}
	return []InboundResult{{
		ProviderMessageID: form.Get("MessageSid"),
		From:              strings.TrimPrefix(from, "whatsapp:"),
		To:                strings.TrimPrefix(to, "whatsapp:"),
		Body:              form.Get("Body"),
		MediaRef:          form.Get("MediaUrl0"),
	}}, true
}
