package tracking

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRewrite(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	s := NewShortener(repo, "https://msg.example/")

	body := "Sale today: https://shop.example/deals?id=1 and https://shop.example/other"
	out, err := s.Rewrite(ctx, "c1", "m1", body)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if strings.Contains(out, "shop.example") {
		t.Fatalf("original URLs must be replaced: %q", out)
	}
	if !strings.HasPrefix(out, "Sale today: https://msg.example/track?c=") {
		t.Fatalf("out = %q", out)
	}

	links, err := repo.ListByMessage(ctx, "m1")
	if err != nil || len(links) != 2 {
		t.Fatalf("links = %v err=%v", links, err)
	}
	for _, l := range links {
		if !strings.Contains(out, l.Code) {
			t.Fatalf("code %s missing from body %q", l.Code, out)
		}
		if !strings.HasPrefix(l.TargetURL, "https://shop.example/") {
			t.Fatalf("target = %q", l.TargetURL)
		}
	}
}

func TestRewrite_NoURLs(t *testing.T) {
	repo := NewMemoryRepo()
	s := NewShortener(repo, "https://msg.example")

	out, err := s.Rewrite(context.Background(), "c1", "m1", "plain text, no links")
	if err != nil || out != "plain text, no links" {
		t.Fatalf("out=%q err=%v", out, err)
	}
	if links, _ := s.repo.ListByMessage(context.Background(), "m1"); len(links) != 0 {
		t.Fatalf("no links should be created")
	}
}

func TestResolveRecordsClick(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	s := NewShortener(repo, "https://msg.example")

	if _, err := s.Rewrite(ctx, "c1", "m1", "go to https://shop.example/x"); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	links, _ := repo.ListByMessage(ctx, "m1")
	code := links[0].Code

	target, err := s.Resolve(ctx, code, "test-agent", "10.0.0.1")
	if err != nil || target != "https://shop.example/x" {
		t.Fatalf("target=%q err=%v", target, err)
	}
	if _, err := s.Resolve(ctx, code, "test-agent", "10.0.0.1"); err != nil {
		t.Fatalf("second click: %v", err)
	}

	link, _ := repo.GetByCode(ctx, code)
	if link.Clicks != 2 {
		t.Fatalf("clicks = %d, want 2", link.Clicks)
	}
	if got := repo.Clicks(); len(got) != 2 || got[0].UserAgent != "test-agent" {
		t.Fatalf("clicks = %+v", got)
	}

	if _, err := s.Resolve(ctx, "nope1234", "", ""); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestRedirectHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	repo := NewMemoryRepo()
	s := NewShortener(repo, "https://msg.example")
	if _, err := s.Rewrite(ctx, "c1", "m1", "see https://shop.example/y"); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	links, _ := repo.ListByMessage(ctx, "m1")

	r := gin.New()
	r.GET("/track", NewHandler(s).Redirect)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/track?c="+links[0].Code, nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "https://shop.example/y" {
		t.Fatalf("status=%d location=%q", w.Code, w.Header().Get("Location"))
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/track?c=unknown1", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
