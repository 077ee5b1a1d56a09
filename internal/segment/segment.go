package segment

// Segment counting for outbound messages.
//
// Contract:
// - Pure and deterministic. The same function backs both UI estimation and
//   the billing path; the two must never diverge.
// - SMS text is classified as GSM-7 (optionally with extension-table
//   characters, each counting as two septets) or UCS-2.
// - Non-SMS channels use a single native encoding with a flat character
//   budget; no cost segmentation applies to them.

// Encoding identifies how the text would be encoded on the wire.
type Encoding string

const (
	EncodingGSM7         Encoding = "GSM7"
	EncodingGSM7Extended Encoding = "GSM7_EXTENDED"
	EncodingUCS2         Encoding = "UCS2"
	EncodingNative       Encoding = "NATIVE"
)

// Single-segment and per-part limits for SMS encodings.
const (
	gsm7SingleLimit = 160
	gsm7MultiLimit  = 153
	ucs2SingleLimit = 70
	ucs2MultiLimit  = 67

	// nativeLimit is the flat per-message budget for chat channels
	// (WhatsApp, Telegram, Messenger). Used for UI estimation only.
	nativeLimit = 1000
)

// Count is the result of classifying one message body.
type Count struct {
	Encoding Encoding `json:"encoding"`

	// Length is the billable length: septets for GSM-7, UTF-16 code units
	// for UCS-2, code points for native channels.
	Length int `json:"length"`

	Segments int `json:"segments"`

	// RemainingInLastSegment is how many more characters fit before the
	// segment count increases.
	RemainingInLastSegment int `json:"remaining_in_last_segment"`

	SingleLimit int `json:"single_limit"`
	MultiLimit  int `json:"multi_limit"`
}

// ForSMS classifies text for the SMS channel.
func ForSMS(text string) Count {
	enc := EncodingGSM7
	length := 0

	for _, r := range text {
		if _, ok := gsm7Base[r]; ok {
			length++
			continue
		}
		if _, ok := gsm7Extension[r]; ok {
			// Extension characters are escaped on the wire and cost two septets.
			if enc == EncodingGSM7 {
				enc = EncodingGSM7Extended
			}
			length += 2
			continue
		}
		return countUCS2(text)
	}

	return finish(enc, length, gsm7SingleLimit, gsm7MultiLimit)
}

// ForChannel classifies text for any channel. SMS delegates to ForSMS;
// everything else is counted against the flat native budget.
func ForChannel(text, channel string) Count {
	if channel == "" || channel == "sms" {
		return ForSMS(text)
	}

	length := 0
	for range text {
		length++
	}
	out := Count{
		Encoding:    EncodingNative,
		Length:      length,
		SingleLimit: nativeLimit,
		MultiLimit:  nativeLimit,
	}
	if length > 0 {
		out.Segments = 1
	}
	out.RemainingInLastSegment = nativeLimit - length
	if out.RemainingInLastSegment < 0 {
		out.RemainingInLastSegment = 0
	}
	return out
}

func countUCS2(text string) Count {
	length := 0
	for _, r := range text {
		// Code points above the BMP need a surrogate pair: two UTF-16 units.
		if r > 0xFFFF {
			length += 2
		} else {
			length++
		}
	}
	return finish(EncodingUCS2, length, ucs2SingleLimit, ucs2MultiLimit)
}

func finish(enc Encoding, length, single, multi int) Count {
	out := Count{
		Encoding:    enc,
		Length:      length,
		SingleLimit: single,
		MultiLimit:  multi,
	}

	switch {
	case length == 0:
		out.Segments = 0
		out.RemainingInLastSegment = single
	case length <= single:
		out.Segments = 1
		out.RemainingInLastSegment = single - length
	default:
		out.Segments = (length + multi - 1) / multi
		out.RemainingInLastSegment = out.Segments*multi - length
	}
	return out
}

// gsm7Base is the GSM 03.38 default alphabet.
var gsm7Base = func() map[rune]struct{} {
	const chars = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
		"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"
	m := make(map[rune]struct{}, len(chars))
	for _, r := range chars {
		m[r] = struct{}{}
	}
	// ESC is part of the base table but never appears in user text on its own.
	m[0x1B] = struct{}{}
	return m
}()

// gsm7Extension is the GSM 03.38 extension table (escaped characters).
var gsm7Extension = func() map[rune]struct{} {
	const chars = "^{}\\[~]|€"
	m := make(map[rune]struct{}, len(chars))
	for _, r := range chars {
		m[r] = struct{}{}
	}
	// Form feed is also reachable via escape.
	m[0x0C] = struct{}{}
	return m
}()
