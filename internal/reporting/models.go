package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// DeliverySummaryRequest requests aggregated delivery metrics.
// Client isolation: ClientID is required.

type DeliverySummaryRequest struct {
	ClientID   string    `json:"client_id"`
	Range      TimeRange `json:"range"`
	CampaignID string    `json:"campaign_id,omitempty"`
}

type DeliverySummary struct {
	ClientID   string `json:"client_id"`
	CampaignID string `json:"campaign_id,omitempty"`

	TotalMessages int `json:"total_messages"`
	Queued        int `json:"queued"`
	Sent          int `json:"sent"`
	Delivered     int `json:"delivered"`
	Failed        int `json:"failed"`
	Rejected      int `json:"rejected"`
	Undelivered   int `json:"undelivered"`
	Expired       int `json:"expired"`
	Cancelled     int `json:"cancelled"`
	Inbound       int `json:"inbound"`

	TotalSegments  int   `json:"total_segments"`
	TotalCostMinor int64 `json:"total_cost_minor"`

	// DeliveryRate is delivered over outbound messages with a final
	// outcome.
	DeliveryRate float64 `json:"delivery_rate"`
}

// SpendSummaryRequest requests aggregated credit movement.
// Spend is derived from immutable ledger transactions scoped to the client.

type SpendSummaryRequest struct {
	ClientID string    `json:"client_id"`
	Range    TimeRange `json:"range"`
}

type SpendSummary struct {
	ClientID string `json:"client_id"`

	PurchasedCredits int64 `json:"purchased_credits"`
	UsedCredits      int64 `json:"used_credits"`
	RefundedCredits  int64 `json:"refunded_credits"`
	ExpiredCredits   int64 `json:"expired_credits"`

	// NetDelta is the balance movement over the window.
	NetDelta int64 `json:"net_delta"`
}
