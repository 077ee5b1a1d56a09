package gateway

import (
	"testing"

	"messaging-platform/internal/message"
)

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want message.Status
		ok   bool
	}{
		{"delivered", message.StatusDelivered, true},
		{"DELIVRD", message.StatusDelivered, true},
		{"read", message.StatusDelivered, true},
		{"sent", message.StatusSent, true},
		{"accepted", message.StatusSent, true},
		{"undelivered", message.StatusUndelivered, true},
		{"rejected", message.StatusRejected, true},
		{"expired", message.StatusExpired, true},
		{" failed ", message.StatusFailed, true},
		{"weird_provider_code", message.StatusFailed, false},
		{"", message.StatusFailed, false},
	}
	for _, tc := range cases {
		got, ok := NormalizeStatus(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("NormalizeStatus(%q) = (%s, %v), want (%s, %v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}
