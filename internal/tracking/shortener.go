package tracking

import (
	"context"
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// urlPattern matches absolute http(s) URLs in message bodies.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

const codeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
const codeLength = 8

// Shortener replaces URLs in outbound bodies with tracked redirect links.
// Rewriting happens before segment counting, so the billed body is the one
// that ships.
type Shortener struct {
	repo Repository

	// baseURL is the public host serving /track, e.g. "https://msg.example".
	baseURL string
	clock   func() time.Time
}

func NewShortener(repo Repository, baseURL string) *Shortener {
	return &Shortener{
		repo:    repo,
		baseURL: strings.TrimRight(baseURL, "/"),
		clock:   time.Now,
	}
}

func newCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// Rewrite replaces every URL in body with a short redirect and stores the
// link rows. A body without URLs is returned unchanged with no writes.
func (s *Shortener) Rewrite(ctx context.Context, clientID, messageID, body string) (string, error) {
	matches := urlPattern.FindAllString(body, -1)
	if len(matches) == 0 {
		return body, nil
	}

	now := s.clock().UTC()
	out := body
	seen := map[string]string{}
	for _, target := range matches {
		if short, ok := seen[target]; ok {
			out = strings.ReplaceAll(out, target, short)
			continue
		}
		code, err := newCode()
		if err != nil {
			return "", fmt.Errorf("tracking: generate code: %w", err)
		}
		link := Link{
			ID:        uuid.NewString(),
			ClientID:  clientID,
			MessageID: messageID,
			Code:      code,
			TargetURL: target,
			CreatedAt: now,
		}
		if err := s.repo.Insert(ctx, link); err != nil {
			return "", err
		}
		short := s.baseURL + "/track?c=" + code
		seen[target] = short
		out = strings.ReplaceAll(out, target, short)
	}
	return out, nil
}

// Resolve records a click and returns the redirect target.
func (s *Shortener) Resolve(ctx context.Context, code, userAgent, ip string) (string, error) {
	link, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return "", err
	}
	click := Click{
		ID:        uuid.NewString(),
		LinkID:    link.ID,
		UserAgent: userAgent,
		IP:        ip,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.repo.RecordClick(ctx, click); err != nil {
		return "", err
	}
	return link.TargetURL, nil
}
