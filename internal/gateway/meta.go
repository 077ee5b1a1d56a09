package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Meta platforms (Messenger, WhatsApp Cloud) sign webhook bodies with
// X-Hub-Signature-256: "sha256=" + hex(HMAC-SHA256(app_secret, body)).
func verifyHubSignature(appSecret string, headers http.Header, rawBody []byte) bool {
	if appSecret == "" {
		return false
	}
	header := headers.Get("X-Hub-Signature-256")
	if !strings.HasPrefix(header, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(rawBody)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.TrimPrefix(header, "sha256=")))
}

const graphAPIVersion = "v19.0"
