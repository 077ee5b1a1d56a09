package gateway

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// genericDriver integrates ad-hoc HTTP SMS providers from configuration
// alone. Credential keys:
//
//	endpoint          send URL (required)
//	method            HTTP method, default POST
//	body_format       "form" or "json", default form
//	param_to          mapping for the recipient field (required)
//	param_from        mapping for the sender field
//	param_body        mapping for the text field (required)
//	params            static params, urlencoded ("api_key=k&route=4")
//	params_location   "body" or "query" for static params, default body
//	auth_type         none | basic | bearer | header
//	auth_user / auth_pass / auth_token / auth_header
//	success_codes     comma-separated HTTP codes, default any 2xx
//	response_id_path  dotted path to the provider message ID
//	balance_endpoint  GET URL for account balance
//	balance_path      dotted path to the balance number
//	dlr_id_field      dotted path in webhook JSON, default "message_id"
//	dlr_status_field  dotted path, default "status"
//	dlr_error_field   dotted path, default "error"
//	in_from_field     dotted path, default "from"
//	in_to_field       dotted path, default "to"
//	in_body_field     dotted path, default "text"
//
// A field mapping is "name" (body) or "query:name" / "body:name". Webhook
// authenticity uses Gateway.WebhookToken against the token query parameter
// or the X-Webhook-Token header.
type genericDriver struct {
	gw     Gateway
	client *http.Client
}

func newGenericDriver(gw Gateway, client *http.Client) (Driver, error) {
	for _, key := range []string{"endpoint", "param_to", "param_body"} {
		if gw.Cred(key) == "" {
			return nil, fmt.Errorf("gateway %s: generic_http requires %s", gw.ID, key)
		}
	}
	return &genericDriver{gw: gw, client: client}, nil
}

func (d *genericDriver) Type() Type { return TypeGenericHTTP }

type paramSpec struct {
	name    string
	inQuery bool
}

func parseParamSpec(s string) paramSpec {
	if rest, ok := strings.CutPrefix(s, "query:"); ok {
		return paramSpec{name: rest, inQuery: true}
	}
	return paramSpec{name: strings.TrimPrefix(s, "body:")}
}

// jsonPath walks a dotted path through decoded JSON. Integer segments
// index arrays ("messages.0.id").
func jsonPath(doc any, path string) (any, bool) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func jsonPathString(doc any, path string) (string, bool) {
	v, ok := jsonPath(doc, path)
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

func (d *genericDriver) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	query := url.Values{}
	body := url.Values{}
	place := func(spec string, value string) {
		if spec == "" || value == "" {
			return
		}
		p := parseParamSpec(spec)
		if p.inQuery {
			query.Set(p.name, value)
		} else {
			body.Set(p.name, value)
		}
	}
	place(d.gw.Cred("param_to"), req.To)
	place(d.gw.Cred("param_from"), req.SenderID)
	place(d.gw.Cred("param_body"), req.Body)
	place(d.gw.Cred("param_media"), req.MediaRef)

	if static := d.gw.Cred("params"); static != "" {
		parsed, err := url.ParseQuery(static)
		if err != nil {
			return SendResult{}, fmt.Errorf("gateway %s: bad static params: %w", d.gw.ID, err)
		}
		dst := body
		if d.gw.Cred("params_location") == "query" {
			dst = query
		}
		for k, vs := range parsed {
			for _, v := range vs {
				dst.Add(k, v)
			}
		}
	}

	method := strings.ToUpper(d.gw.Cred("method"))
	if method == "" {
		method = http.MethodPost
	}

	var reqBody io.Reader
	contentType := ""
	if method != http.MethodGet && len(body) > 0 {
		if d.gw.Cred("body_format") == "json" {
			obj := map[string]string{}
			for k := range body {
				obj[k] = body.Get(k)
			}
			raw, err := json.Marshal(obj)
			if err != nil {
				return SendResult{}, err
			}
			reqBody = strings.NewReader(string(raw))
			contentType = "application/json"
		} else {
			reqBody = strings.NewReader(body.Encode())
			contentType = "application/x-www-form-urlencoded"
		}
	} else if method == http.MethodGet {
		for k, vs := range body {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
	}

	endpoint := d.gw.Cred("endpoint")
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return SendResult{}, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	d.applyAuth(httpReq)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return SendResult{}, transportErr(TypeGenericHTTP, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SendResult{}, transportErr(TypeGenericHTTP, err)
	}
	if !d.successCode(resp.StatusCode) {
		return SendResult{}, &ProviderError{
			Provider: TypeGenericHTTP,
			Code:     strconv.Itoa(resp.StatusCode),
			Message:  strings.TrimSpace(string(raw)),
		}
	}

	var providerID string
	if path := d.gw.Cred("response_id_path"); path != "" {
		var doc any
		if err := json.Unmarshal(raw, &doc); err == nil {
			providerID, _ = jsonPathString(doc, path)
		}
	}
	return SendResult{ProviderMessageID: providerID}, nil
}

func (d *genericDriver) applyAuth(req *http.Request) {
	switch d.gw.Cred("auth_type") {
	case "basic":
		req.SetBasicAuth(d.gw.Cred("auth_user"), d.gw.Cred("auth_pass"))
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+d.gw.Cred("auth_token"))
	case "header":
		req.Header.Set(d.gw.Cred("auth_header"), d.gw.Cred("auth_token"))
	}
}

func (d *genericDriver) successCode(code int) bool {
	list := d.gw.Cred("success_codes")
	if list == "" {
		return code >= 200 && code < 300
	}
	for _, part := range strings.Split(list, ",") {
		if want, err := strconv.Atoi(strings.TrimSpace(part)); err == nil && want == code {
			return true
		}
	}
	return false
}

func (d *genericDriver) FetchBalance(ctx context.Context) (float64, bool, error) {
	endpoint := d.gw.Cred("balance_endpoint")
	if endpoint == "" {
		return 0, false, nil
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, false, err
	}
	d.applyAuth(httpReq)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return 0, false, transportErr(TypeGenericHTTP, err)
	}
	defer resp.Body.Close()

	var doc any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return 0, false, err
	}
	path := d.gw.Cred("balance_path")
	if path == "" {
		path = "balance"
	}
	s, ok := jsonPathString(doc, path)
	if !ok {
		return 0, false, fmt.Errorf("gateway %s: balance path %q not found", d.gw.ID, path)
	}
	bal, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	return bal, true, nil
}

func (d *genericDriver) VerifyWebhook(meta WebhookMeta, rawBody []byte) bool {
	// Without a token callbacks cannot be authenticated; none are accepted.
	if d.gw.WebhookToken == "" {
		return false
	}
	got := meta.Headers.Get("X-Webhook-Token")
	if got == "" {
		if u, err := url.Parse(meta.URL); err == nil {
			got = u.Query().Get("token")
		}
	}
	return hmac.Equal([]byte(got), []byte(d.gw.WebhookToken))
}

func (d *genericDriver) credOr(key, def string) string {
	if v := d.gw.Cred(key); v != "" {
		return v
	}
	return def
}

func (d *genericDriver) ParseDLR(rawBody []byte) ([]DLRResult, bool) {
	var doc any
	if err := json.Unmarshal(rawBody, &doc); err != nil {
		return nil, false
	}
	id, okID := jsonPathString(doc, d.credOr("dlr_id_field", "message_id"))
	raw, okStatus := jsonPathString(doc, d.credOr("dlr_status_field", "status"))
	if !okID || !okStatus {
		return nil, false
	}
	st, _ := NormalizeStatus(raw)
	errMsg, _ := jsonPathString(doc, d.credOr("dlr_error_field", "error"))
	return []DLRResult{{
		ProviderMessageID: id,
		Status:            st,
		RawStatus:         raw,
		Error:             errMsg,
	}}, true
}

func (d *genericDriver) ParseInbound(rawBody []byte) ([]InboundResult, bool) {
	var doc any
	if err := json.Unmarshal(rawBody, &doc); err != nil {
		return nil, false
	}
	from, okFrom := jsonPathString(doc, d.credOr("in_from_field", "from"))
	body, okBody := jsonPathString(doc, d.credOr("in_body_field", "text"))
	if !okFrom || !okBody {
		return nil, false
	}
	to, _ := jsonPathString(doc, d.credOr("in_to_field", "to"))
	id, _ := jsonPathString(doc, d.credOr("in_id_field", "id"))
	return []InboundResult{{
		ProviderMessageID: id,
		From:              from,
		To:                to,
		Body:              body,
	}}, true
}
