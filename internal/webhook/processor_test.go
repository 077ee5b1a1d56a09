package webhook

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"messaging-platform/internal/gateway"
	"messaging-platform/internal/ledger"
	"messaging-platform/internal/message"
	"messaging-platform/internal/optout"
	"messaging-platform/internal/senderid"
)

type fakeDriver struct {
	verify   bool
	dlrs     []gateway.DLRResult
	inbounds []gateway.InboundResult
}

func (d *fakeDriver) Type() gateway.Type { return "fake" }
func (d *fakeDriver) Send(ctx context.Context, req gateway.SendRequest) (gateway.SendResult, error) {
	return gateway.SendResult{}, errors.New("not used")
}
func (d *fakeDriver) FetchBalance(ctx context.Context) (float64, bool, error) { return 0, false, nil }
func (d *fakeDriver) VerifyWebhook(meta gateway.WebhookMeta, raw []byte) bool { return d.verify }
func (d *fakeDriver) ParseDLR(raw []byte) ([]gateway.DLRResult, bool) {
	return d.dlrs, len(d.dlrs) > 0
}
func (d *fakeDriver) ParseInbound(raw []byte) ([]gateway.InboundResult, bool) {
	return d.inbounds, len(d.inbounds) > 0
}

type fixture struct {
	processor *Processor
	inbox     *MemoryInbox
	driver    *fakeDriver
	messages  *message.MemoryRepo
	credits   *ledger.Service
	optRepo   *optout.MemoryRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	inbox := NewMemoryInbox()
	messages := message.NewMemoryRepo()
	credits := ledger.NewService(ledger.NewMemoryStore(), ledger.ModeCredit)
	optRepo := optout.NewMemoryRepo()
	optouts := optout.NewRegistry(optRepo)

	senders := senderid.NewMemoryRepo()
	senders.Add(senderid.Assignment{
		ID: "a1", ClientID: "c1", Channel: message.ChannelSMS, Value: "+15559999", Active: true,
	})

	gwRepo := gateway.NewMemoryRepo()
	gwRepo.Put(gateway.Gateway{ID: "gw1", Type: "fake", Channel: message.ChannelSMS, Active: true})
	registry := gateway.NewRegistry(gwRepo, time.Second)
	driver := &fakeDriver{verify: true}
	registry.Register("fake", func(gw gateway.Gateway, c *http.Client) (gateway.Driver, error) {
		return driver, nil
	})

	return &fixture{
		processor: NewProcessor(inbox, registry, messages, credits, optouts, senders, "system"),
		inbox:     inbox,
		driver:    driver,
		messages:  messages,
		credits:   credits,
		optRepo:   optRepo,
	}
}

// seedSent stores a sent, debited outbound message for DLR tests.
func (f *fixture) seedSent(t *testing.T, campaignID string) message.Message {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := f.credits.TopUp(ctx, "c1", 50, "test", nil); err != nil {
		t.Fatalf("topup: %v", err)
	}
	m := message.NewOutbound("c1", "gw1", message.ChannelSMS, "BRAND", "+15550001", "hello", now)
	m.CampaignID = campaignID
	m.Segments, m.CostMinor = 1, 3
	if err := f.messages.Insert(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := f.credits.Debit(ctx, "c1", 3, ledger.ReferenceMessage, m.ID, "test send"); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := f.messages.MarkSent(ctx, m.ID, "prov-1", now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	m.ProviderMessageID = "prov-1"
	return m
}

// entryFor builds and stores an inbox entry, like the handler does before
// processing.
func (f *fixture) entryFor(t *testing.T, gwID string) InboxEntry {
	t.Helper()
	e := InboxEntry{
		ID:         "e1",
		GatewayID:  gwID,
		RequestURL: "https://hooks.example/webhook?gw_id=" + gwID,
		Headers:    http.Header{},
		RawPayload: []byte(`{}`),
		ReceivedAt: time.Now().UTC(),
	}
	if err := f.inbox.Insert(context.Background(), e); err != nil {
		t.Fatalf("insert entry: %v", err)
	}
	return e
}

func balance(t *testing.T, credits *ledger.Service, clientID string) int64 {
	t.Helper()
	b, err := credits.GetBalance(context.Background(), clientID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b.Balance
}

func TestProcess_TerminalFailureRefundsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.seedSent(t, "camp1")
	f.driver.dlrs = []gateway.DLRResult{{
		ProviderMessageID: "prov-1", Status: message.StatusUndelivered, RawStatus: "undelivered",
	}}

	entry := f.entryFor(t, "gw1")

	kind, err := f.processor.Process(ctx, entry)
	if err != nil || kind != KindDLR {
		t.Fatalf("process: kind=%s err=%v", kind, err)
	}

	stored, _ := f.messages.GetByID(ctx, m.ID)
	if stored.Status != message.StatusUndelivered {
		t.Fatalf("status = %s", stored.Status)
	}
	if got := balance(t, f.credits, "c1"); got != 50 {
		t.Fatalf("refund missing, balance = %d", got)
	}
	if f.messages.CampaignFailed("camp1") != 1 {
		t.Fatalf("campaign counter not bumped")
	}
	if e, _ := f.inbox.Get(entry.ID); !e.Processed || e.Kind != KindDLR {
		t.Fatalf("entry not marked processed: %+v", e)
	}

	// Reprocessing the same entry is refused outright.
	if _, err := f.processor.Process(ctx, entry); !errors.Is(err, ErrClaimed) {
		t.Fatalf("reprocess: %v", err)
	}
	if got := balance(t, f.credits, "c1"); got != 50 {
		t.Fatalf("double refund, balance = %d", got)
	}
	if f.messages.CampaignFailed("camp1") != 1 {
		t.Fatalf("campaign counter double-bumped")
	}
}

func TestProcess_DeliveredSetsStatusWithoutRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.seedSent(t, "")
	f.driver.dlrs = []gateway.DLRResult{{
		ProviderMessageID: "prov-1", Status: message.StatusDelivered, RawStatus: "delivered",
	}}

	if _, err := f.processor.Process(ctx, f.entryFor(t, "gw1")); err != nil {
		t.Fatalf("process: %v", err)
	}
	stored, _ := f.messages.GetByID(ctx, m.ID)
	if stored.Status != message.StatusDelivered || stored.DeliveredAt == nil {
		t.Fatalf("stored = %+v", stored)
	}
	if got := balance(t, f.credits, "c1"); got != 47 {
		t.Fatalf("delivered must stay debited, balance = %d", got)
	}
}

func TestProcess_UnknownProviderIDRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.driver.dlrs = []gateway.DLRResult{{
		ProviderMessageID: "prov-unknown", Status: message.StatusDelivered, RawStatus: "delivered",
	}}

	entry := f.entryFor(t, "gw1")
	if _, err := f.processor.Process(ctx, entry); err == nil {
		t.Fatalf("receipt for unknown message must fail for retry")
	}
	e, _ := f.inbox.Get(entry.ID)
	if e.Processed || e.Error == "" || e.Attempts != 1 {
		t.Fatalf("entry = %+v", e)
	}

	pending, err := f.inbox.ListUnprocessed(ctx, 10, 5)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v err=%v", pending, err)
	}
}

func TestProcess_InboundStopKeyword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.driver.inbounds = []gateway.InboundResult{{
		ProviderMessageID: "in-1", From: "+15550001", To: "+15559999", Body: "STOP",
	}}

	entry := f.entryFor(t, "gw1")
	kind, err := f.processor.Process(ctx, entry)
	if err != nil || kind != KindInbound {
		t.Fatalf("process: kind=%s err=%v", kind, err)
	}

	// Stored against the client owning the receiving number.
	stored, ok, err := f.messages.FindInboundByProviderID(ctx, "gw1", "in-1")
	if err != nil || !ok {
		t.Fatalf("inbound not stored: %v", err)
	}
	if stored.ClientID != "c1" || stored.Status != message.StatusReceived {
		t.Fatalf("stored = %+v", stored)
	}
	if n := len(f.optRepo.Entries()); n != 1 {
		t.Fatalf("opt-out rows = %d, want 1", n)
	}

	// Provider retry of the same update: no second row, no second opt-out.
	if _, err := f.processor.Process(ctx, entry); !errors.Is(err, ErrClaimed) {
		t.Fatalf("reprocess: %v", err)
	}
	if f.messages.Count() != 1 {
		t.Fatalf("duplicate inbound stored")
	}
	if n := len(f.optRepo.Entries()); n != 1 {
		t.Fatalf("opt-out rows = %d after replay", n)
	}
}

func TestProcess_InboundUnassignedFallsBackToSystem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.driver.inbounds = []gateway.InboundResult{{
		ProviderMessageID: "in-2", From: "+15550001", To: "+15550000", Body: "hello",
	}}

	if _, err := f.processor.Process(ctx, f.entryFor(t, "gw1")); err != nil {
		t.Fatalf("process: %v", err)
	}
	stored, ok, _ := f.messages.FindInboundByProviderID(ctx, "gw1", "in-2")
	if !ok || stored.ClientID != "system" {
		t.Fatalf("stored = %+v ok=%v", stored, ok)
	}
}

func TestProcess_BadSignatureNoSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSent(t, "")
	f.driver.verify = false
	f.driver.dlrs = []gateway.DLRResult{{
		ProviderMessageID: "prov-1", Status: message.StatusUndelivered, RawStatus: "undelivered",
	}}

	entry := f.entryFor(t, "gw1")
	if _, err := f.processor.Process(ctx, entry); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature, got %v", err)
	}
	if got := balance(t, f.credits, "c1"); got != 47 {
		t.Fatalf("forged receipt must not refund, balance = %d", got)
	}
	if e, _ := f.inbox.Get(entry.ID); e.Processed {
		t.Fatalf("forged entry must not be marked processed")
	}
}

func TestProcess_ConcurrentCallersStoreOneInbound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.driver.inbounds = []gateway.InboundResult{{
		ProviderMessageID: "in-1", From: "+15550001", To: "+15559999", Body: "hello",
	}}

	entry := f.entryFor(t, "gw1")

	// The inline handler path and the retry worker can pick up the same
	// entry at once; the claim lets exactly one of them through.
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.processor.Process(ctx, entry)
			errs <- err
		}()
	}
	var won, refused int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			won++
		case errors.Is(err, ErrClaimed):
			refused++
		default:
			t.Fatalf("process: %v", err)
		}
	}
	if won != 1 || refused != 1 {
		t.Fatalf("won=%d refused=%d, want exactly one of each", won, refused)
	}
	if f.messages.Count() != 1 {
		t.Fatalf("message rows = %d, want 1", f.messages.Count())
	}
}

func TestProcess_StaleClaimIsTakenOver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.driver.inbounds = []gateway.InboundResult{{
		ProviderMessageID: "in-4", From: "+15550001", To: "+15559999", Body: "hello",
	}}

	entry := f.entryFor(t, "gw1")

	// A processor that claimed the entry and then crashed: the claim is
	// there but the entry never completed.
	start := time.Now().UTC()
	if ok, err := f.inbox.Claim(ctx, entry.ID, start, claimTTL); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	// Within the staleness window nobody else may touch it.
	if _, err := f.processor.Process(ctx, entry); !errors.Is(err, ErrClaimed) {
		t.Fatalf("live claim not honored: %v", err)
	}

	// Once the window passes, the retry worker takes over.
	f.processor.clock = func() time.Time { return start.Add(claimTTL + time.Minute) }
	if _, err := f.processor.Process(ctx, entry); err != nil {
		t.Fatalf("takeover: %v", err)
	}
	if e, _ := f.inbox.Get(entry.ID); !e.Processed {
		t.Fatalf("entry not processed after takeover: %+v", e)
	}
	if f.messages.Count() != 1 {
		t.Fatalf("message rows = %d, want 1", f.messages.Count())
	}
}

func TestProcess_InboundWithoutProviderIDReplaysOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.driver.inbounds = []gateway.InboundResult{{
		From: "+15550001", To: "+15559999", Body: "hello",
	}}

	entry := f.entryFor(t, "gw1")

	// First attempt crashes after the insert: the row is stored but the
	// entry is never marked processed, so the worker will replay it.
	start := time.Now().UTC()
	if ok, err := f.inbox.Claim(ctx, entry.ID, start, claimTTL); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if _, err := f.processor.process(ctx, entry); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if f.messages.Count() != 1 {
		t.Fatalf("message rows = %d after first attempt", f.messages.Count())
	}

	f.processor.clock = func() time.Time { return start.Add(claimTTL + time.Minute) }
	if _, err := f.processor.Process(ctx, entry); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if f.messages.Count() != 1 {
		t.Fatalf("replay without provider ID inserted a second row")
	}
}

func TestMemoryInboxClaim(t *testing.T) {
	ctx := context.Background()
	inbox := NewMemoryInbox()
	now := time.Now().UTC()
	if err := inbox.Insert(ctx, InboxEntry{ID: "e1", ReceivedAt: now}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if ok, err := inbox.Claim(ctx, "e1", now, time.Minute); err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := inbox.Claim(ctx, "e1", now.Add(30*time.Second), time.Minute); ok {
		t.Fatalf("live claim must refuse")
	}
	if ok, _ := inbox.Claim(ctx, "e1", now.Add(2*time.Minute), time.Minute); !ok {
		t.Fatalf("stale claim must be taken over")
	}

	// An error releases the claim for the next attempt.
	if err := inbox.MarkError(ctx, "e1", "boom"); err != nil {
		t.Fatalf("mark error: %v", err)
	}
	if ok, _ := inbox.Claim(ctx, "e1", now.Add(2*time.Minute+time.Second), time.Minute); !ok {
		t.Fatalf("claim after error must succeed")
	}

	// Processing closes the entry for good.
	if err := inbox.MarkProcessed(ctx, "e1", KindDLR, now.Add(3*time.Minute)); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if ok, _ := inbox.Claim(ctx, "e1", now.Add(time.Hour), time.Minute); ok {
		t.Fatalf("processed entry must not be claimable")
	}
	if _, err := inbox.Claim(ctx, "missing", now, time.Minute); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("missing entry: %v", err)
	}
}

type recordingReplier struct{ got []message.Message }

func (r *recordingReplier) Reply(ctx context.Context, m message.Message) error {
	r.got = append(r.got, m)
	return nil
}

func TestProcess_AutoReply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	replier := &recordingReplier{}
	f.processor.SetAutoReplier(replier)
	f.driver.inbounds = []gateway.InboundResult{{
		ProviderMessageID: "in-3", From: "+15550001", To: "+15559999", Body: "BALANCE",
	}}

	if _, err := f.processor.Process(ctx, f.entryFor(t, "gw1")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(replier.got) != 1 || replier.got[0].Body != "BALANCE" {
		t.Fatalf("auto replier got %+v", replier.got)
	}
}
