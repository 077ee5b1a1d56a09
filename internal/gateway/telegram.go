package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramDriver speaks the Telegram Bot API. Credentials:
//
//	bot_token     the BotFather token
//	bot_username  receiving identity, reported as InboundResult.To
//
// Webhook callbacks are authenticated by the secret token Telegram echoes
// back in X-Telegram-Bot-Api-Secret-Token; Gateway.WebhookToken holds it.
// The To address is the numeric chat ID a prior inbound conversation
// established.
type telegramDriver struct {
	gw      Gateway
	client  *http.Client
	baseURL string
}

func newTelegramDriver(gw Gateway, client *http.Client) (Driver, error) {
	if gw.Cred("bot_token") == "" {
		return nil, fmt.Errorf("gateway %s: telegram requires bot_token", gw.ID)
	}
	return &telegramDriver{gw: gw, client: client, baseURL: "https://api.telegram.org"}, nil
}

func (d *telegramDriver) Type() Type { return TypeTelegram }

func (d *telegramDriver) call(ctx context.Context, method string, payload any) (tgbotapi.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return tgbotapi.Message{}, err
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", d.baseURL, d.gw.Cred("bot_token"), method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return tgbotapi.Message{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return tgbotapi.Message{}, transportErr(TypeTelegram, err)
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool             `json:"ok"`
		Result      tgbotapi.Message `json:"result"`
		ErrorCode   int              `json:"error_code"`
		Description string           `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return tgbotapi.Message{}, transportErr(TypeTelegram, err)
	}
	if !out.OK {
		return tgbotapi.Message{}, &ProviderError{
			Provider: TypeTelegram,
			Code:     strconv.Itoa(out.ErrorCode),
			Message:  out.Description,
		}
	}
	return out.Result, nil
}

func (d *telegramDriver) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	var (
		msg tgbotapi.Message
		err error
	)
	if req.MediaRef != "" {
		msg, err = d.call(ctx, "sendPhoto", map[string]any{
			"chat_id": req.To,
			"photo":   req.MediaRef,
			"caption": req.Body,
		})
	} else {
		msg, err = d.call(ctx, "sendMessage", map[string]any{
			"chat_id": req.To,
			"text":    req.Body,
		})
	}
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{ProviderMessageID: telegramMessageID(msg)}, nil
}

// FetchBalance: bots are free, there is no balance to report.
func (d *telegramDriver) FetchBalance(ctx context.Context) (float64, bool, error) {
	return 0, false, nil
}

func (d *telegramDriver) VerifyWebhook(meta WebhookMeta, rawBody []byte) bool {
	// Without a token callbacks cannot be authenticated; none are accepted.
	if d.gw.WebhookToken == "" {
		return false
	}
	got := meta.Headers.Get("X-Telegram-Bot-Api-Secret-Token")
	return hmac.Equal([]byte(got), []byte(d.gw.WebhookToken))
}

// ParseDLR: the Bot API has no delivery receipts.
func (d *telegramDriver) ParseDLR(rawBody []byte) ([]DLRResult, bool) {
	return nil, false
}

func (d *telegramDriver) ParseInbound(rawBody []byte) ([]InboundResult, bool) {
	var update tgbotapi.Update
	if err := json.Unmarshal(rawBody, &update); err != nil {
		return nil, false
	}
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || msg.Chat == nil {
		return nil, false
	}

	body := msg.Text
	var media string
	if len(msg.Photo) > 0 {
		media = msg.Photo[len(msg.Photo)-1].FileID
		if body == "" {
			body = msg.Caption
		}
	}
	return []InboundResult{{
		ProviderMessageID: telegramMessageID(*msg),
		From:              strconv.FormatInt(msg.Chat.ID, 10),
		To:                d.gw.Cred("bot_username"),
		Body:              body,
		MediaRef:          media,
	}}, true
}

// telegramMessageID disambiguates the per-chat message counter with the
// chat ID.
func telegramMessageID(m tgbotapi.Message) string {
	var chatID int64
	if m.Chat != nil {
		chatID = m.Chat.ID
	}
	return fmt.Sprintf("%d:%d", chatID, m.MessageID)
}
