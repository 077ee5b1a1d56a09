package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// whatsappDriver speaks the WhatsApp Cloud API. Credentials:
//
//	access_token     Graph API bearer token
//	phone_number_id  sending number resource ID
//	app_secret       webhook signing secret
//	display_number   receiving identity, reported as InboundResult.To
//	                 (falls back to webhook metadata when set there)
type whatsappDriver struct {
	gw      Gateway
	client  *http.Client
	baseURL string
}

func newWhatsAppDriver(gw Gateway, client *http.Client) (Driver, error) {
	if gw.Cred("access_token") == "" || gw.Cred("phone_number_id") == "" {
		return nil, fmt.Errorf("gateway %s: whatsapp requires access_token and phone_number_id", gw.ID)
	}
	return &whatsappDriver{gw: gw, client: client, baseURL: "https://graph.facebook.com"}, nil
}

func (d *whatsappDriver) Type() Type { return TypeWhatsApp }

func (d *whatsappDriver) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                req.To,
	}
	if req.MediaRef != "" {
		payload["type"] = "image"
		payload["image"] = map[string]string{"link": req.MediaRef, "caption": req.Body}
	} else {
		payload["type"] = "text"
		payload["text"] = map[string]string{"body": req.Body}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, err
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages", d.baseURL, graphAPIVersion, d.gw.Cred("phone_number_id"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.gw.Cred("access_token"))

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return SendResult{}, transportErr(TypeWhatsApp, err)
	}
	defer resp.Body.Close()

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
		Error *struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SendResult{}, transportErr(TypeWhatsApp, err)
	}
	if out.Error != nil {
		return SendResult{}, &ProviderError{
			Provider: TypeWhatsApp,
			Code:     strconv.Itoa(out.Error.Code),
			Message:  out.Error.Message,
		}
	}
	if len(out.Messages) == 0 {
		return SendResult{}, &ProviderError{Provider: TypeWhatsApp, Code: "0", Message: "no message id in response"}
	}
	return SendResult{ProviderMessageID: out.Messages[0].ID}, nil
}

func (d *whatsappDriver) FetchBalance(ctx context.Context) (float64, bool, error) {
	return 0, false, nil
}

func (d *whatsappDriver) VerifyWebhook(meta WebhookMeta, rawBody []byte) bool {
	return verifyHubSignature(d.gw.Cred("app_secret"), meta.Headers, rawBody)
}

type whatsappEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
				} `json:"metadata"`
				Statuses []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
					Errors []struct {
						Code  int    `json:"code"`
						Title string `json:"title"`
					} `json:"errors"`
				} `json:"statuses"`
				Messages []struct {
					ID   string `json:"id"`
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Image struct {
						ID      string `json:"id"`
						Caption string `json:"caption"`
					} `json:"image"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (d *whatsappDriver) ParseDLR(rawBody []byte) ([]DLRResult, bool) {
	var env whatsappEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil || env.Object != "whatsapp_business_account" {
		return nil, false
	}
	var out []DLRResult
	for _, entry := range env.Entry {
		for _, ch := range entry.Changes {
			for _, st := range ch.Value.Statuses {
				norm, _ := NormalizeStatus(st.Status)
				res := DLRResult{
					ProviderMessageID: st.ID,
					Status:            norm,
					RawStatus:         st.Status,
				}
				if len(st.Errors) > 0 {
					res.Error = fmt.Sprintf("%d: %s", st.Errors[0].Code, st.Errors[0].Title)
				}
				out = append(out, res)
			}
		}
	}
	return out, len(out) > 0
}

func (d *whatsappDriver) ParseInbound(rawBody []byte) ([]InboundResult, bool) {
	var env whatsappEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil || env.Object != "whatsapp_business_account" {
		return nil, false
	}
	var out []InboundResult
	for _, entry := range env.Entry {
		for _, ch := range entry.Changes {
			to := ch.Value.Metadata.DisplayPhoneNumber
			if to == "" {
				to = d.gw.Cred("display_number")
			}
			for _, m := range ch.Value.Messages {
				res := InboundResult{
					ProviderMessageID: m.ID,
					From:              m.From,
					To:                to,
					Body:              m.Text.Body,
				}
				if m.Type == "image" {
					res.MediaRef = m.Image.ID
					if res.Body == "" {
						res.Body = m.Image.Caption
					}
				}
				out = append(out, res)
			}
		}
	}
	return out, len(out) > 0
}
