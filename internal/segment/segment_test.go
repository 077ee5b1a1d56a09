package segment

import (
	"strings"
	"testing"
)

func TestForSMS_ASCIISingleSegment(t *testing.T) {
	for _, text := range []string{"a", "hello world", strings.Repeat("x", 160)} {
		c := ForSMS(text)
		if c.Encoding != EncodingGSM7 {
			t.Fatalf("text %q: expected GSM7, got %s", text, c.Encoding)
		}
		if c.Segments != 1 {
			t.Fatalf("text %q: expected 1 segment, got %d", text, c.Segments)
		}
	}
}

func TestForSMS_Empty(t *testing.T) {
	c := ForSMS("")
	if c.Segments != 0 {
		t.Fatalf("expected 0 segments, got %d", c.Segments)
	}
	if c.Length != 0 {
		t.Fatalf("expected length 0, got %d", c.Length)
	}
	if c.RemainingInLastSegment != 160 {
		t.Fatalf("expected 160 remaining, got %d", c.RemainingInLastSegment)
	}
}

func TestForSMS_MultiSegmentBoundaries(t *testing.T) {
	cases := []struct {
		length   int
		segments int
	}{
		{160, 1},
		{161, 2},
		{306, 2},
		{307, 3},
		{459, 3},
		{460, 4},
	}
	for _, tc := range cases {
		c := ForSMS(strings.Repeat("a", tc.length))
		if c.Segments != tc.segments {
			t.Fatalf("length %d: expected %d segments, got %d", tc.length, tc.segments, c.Segments)
		}
	}
}

func TestForSMS_ExtensionCharsCountDouble(t *testing.T) {
	c := ForSMS("price {100}")
	if c.Encoding != EncodingGSM7Extended {
		t.Fatalf("expected GSM7_EXTENDED, got %s", c.Encoding)
	}
	// "price 100" is 9 septets, each brace costs 2.
	if c.Length != 13 {
		t.Fatalf("expected length 13, got %d", c.Length)
	}

	// 80 euro signs cost 160 septets: still one segment. 81 spill to two.
	if got := ForSMS(strings.Repeat("€", 80)).Segments; got != 1 {
		t.Fatalf("expected 1 segment, got %d", got)
	}
	if got := ForSMS(strings.Repeat("€", 81)).Segments; got != 2 {
		t.Fatalf("expected 2 segments, got %d", got)
	}
}

func TestForSMS_UCS2(t *testing.T) {
	c := ForSMS("héllo 😀")
	if c.Encoding != EncodingUCS2 {
		t.Fatalf("expected UCS2, got %s", c.Encoding)
	}
	if c.SingleLimit != 70 {
		t.Fatalf("expected single limit 70, got %d", c.SingleLimit)
	}
	c = ForSMS("привет")
	if c.Encoding != EncodingUCS2 || c.Length != 6 {
		t.Fatalf("expected UCS2 length 6, got %s length %d", c.Encoding, c.Length)
	}

	// Emoji above the BMP cost two UTF-16 units.
	c = ForSMS("😀")
	if c.Length != 2 {
		t.Fatalf("expected length 2 for emoji, got %d", c.Length)
	}
}

func TestForSMS_UCS2Boundaries(t *testing.T) {
	if got := ForSMS(strings.Repeat("п", 70)).Segments; got != 1 {
		t.Fatalf("expected 1 segment, got %d", got)
	}
	if got := ForSMS(strings.Repeat("п", 71)).Segments; got != 2 {
		t.Fatalf("expected 2 segments, got %d", got)
	}
	if got := ForSMS(strings.Repeat("п", 134)).Segments; got != 2 {
		t.Fatalf("expected 2 segments, got %d", got)
	}
	if got := ForSMS(strings.Repeat("п", 135)).Segments; got != 3 {
		t.Fatalf("expected 3 segments, got %d", got)
	}
}

func TestForChannel_Native(t *testing.T) {
	c := ForChannel("hello 😀", "whatsapp")
	if c.Encoding != EncodingNative {
		t.Fatalf("expected NATIVE, got %s", c.Encoding)
	}
	if c.Segments != 1 {
		t.Fatalf("expected 1 segment, got %d", c.Segments)
	}
	// Native counting is per code point, not per UTF-16 unit.
	if c.Length != 7 {
		t.Fatalf("expected length 7, got %d", c.Length)
	}

	if got := ForChannel("", "telegram").Segments; got != 0 {
		t.Fatalf("expected 0 segments for empty text, got %d", got)
	}
}

func TestForChannel_SMSDelegates(t *testing.T) {
	a := ForChannel("hello", "sms")
	b := ForSMS("hello")
	if a != b {
		t.Fatalf("ForChannel(sms) diverged from ForSMS: %+v vs %+v", a, b)
	}
}
