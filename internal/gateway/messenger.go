package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"messaging-platform/internal/message"
)

// messengerDriver speaks the Facebook Messenger Send API. Credentials:
//
//	page_access_token  Graph API token for the page
//	app_secret         webhook signing secret
//	page_id            receiving identity, reported as InboundResult.To
//
// The To address is a page-scoped user ID (PSID).
type messengerDriver struct {
	gw      Gateway
	client  *http.Client
	baseURL string
}

func newMessengerDriver(gw Gateway, client *http.Client) (Driver, error) {
	if gw.Cred("page_access_token") == "" || gw.Cred("app_secret") == "" {
		return nil, fmt.Errorf("gateway %s: messenger requires page_access_token and app_secret", gw.ID)
	}
	return &messengerDriver{gw: gw, client: client, baseURL: "https://graph.facebook.com"}, nil
}

func (d *messengerDriver) Type() Type { return TypeMessenger }

func (d *messengerDriver) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	msg := map[string]any{"text": req.Body}
	if req.MediaRef != "" {
		msg = map[string]any{
			"attachment": map[string]any{
				"type":    "image",
				"payload": map[string]any{"url": req.MediaRef, "is_reusable": true},
			},
		}
	}
	payload := map[string]any{
		"recipient":      map[string]string{"id": req.To},
		"messaging_type": "MESSAGE_TAG",
		"tag":            "ACCOUNT_UPDATE",
		"message":        msg,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, err
	}

	endpoint := fmt.Sprintf("%s/%s/me/messages?access_token=%s",
		d.baseURL, graphAPIVersion, d.gw.Cred("page_access_token"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return SendResult{}, transportErr(TypeMessenger, err)
	}
	defer resp.Body.Close()

	var out struct {
		MessageID string `json:"message_id"`
		Error     *struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SendResult{}, transportErr(TypeMessenger, err)
	}
	if out.Error != nil {
		return SendResult{}, &ProviderError{
			Provider: TypeMessenger,
			Code:     strconv.Itoa(out.Error.Code),
			Message:  out.Error.Message,
		}
	}
	return SendResult{ProviderMessageID: out.MessageID}, nil
}

func (d *messengerDriver) FetchBalance(ctx context.Context) (float64, bool, error) {
	return 0, false, nil
}

func (d *messengerDriver) VerifyWebhook(meta WebhookMeta, rawBody []byte) bool {
	return verifyHubSignature(d.gw.Cred("app_secret"), meta.Headers, rawBody)
}

type messengerEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Recipient struct {
				ID string `json:"id"`
			} `json:"recipient"`
			Message *struct {
				MID         string `json:"mid"`
				Text        string `json:"text"`
				IsEcho      bool   `json:"is_echo"`
				Attachments []struct {
					Type    string `json:"type"`
					Payload struct {
						URL string `json:"url"`
					} `json:"payload"`
				} `json:"attachments"`
			} `json:"message"`
			Delivery *struct {
				MIDs []string `json:"mids"`
			} `json:"delivery"`
		} `json:"messaging"`
	} `json:"entry"`
}

// ParseDLR: Messenger reports delivery as a batch of message IDs per event.
func (d *messengerDriver) ParseDLR(rawBody []byte) ([]DLRResult, bool) {
	var env messengerEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil || env.Object != "page" {
		return nil, false
	}
	var out []DLRResult
	for _, entry := range env.Entry {
		for _, ev := range entry.Messaging {
			if ev.Delivery == nil {
				continue
			}
			for _, mid := range ev.Delivery.MIDs {
				out = append(out, DLRResult{
					ProviderMessageID: mid,
					Status:            message.StatusDelivered,
					RawStatus:         "delivered",
				})
			}
		}
	}
	return out, len(out) > 0
}

func (d *messengerDriver) ParseInbound(rawBody []byte) ([]InboundResult, bool) {
	var env messengerEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil || env.Object != "page" {
		return nil, false
	}
	var out []InboundResult
	for _, entry := range env.Entry {
		for _, ev := range entry.Messaging {
			if ev.Message == nil || ev.Message.IsEcho {
				continue
			}
			res := InboundResult{
				ProviderMessageID: ev.Message.MID,
				From:              ev.Sender.ID,
				To:                ev.Recipient.ID,
				Body:              ev.Message.Text,
			}
			if len(ev.Message.Attachments) > 0 {
				res.MediaRef = ev.Message.Attachments[0].Payload.URL
			}
			out = append(out, res)
		}
	}
	return out, len(out) > 0
}
