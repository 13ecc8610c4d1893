package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WebhookEventStatus tracks dedup/processing progress for one inbound
// billing-provider event.
type WebhookEventStatus string

const (
	WebhookEventReceived  WebhookEventStatus = "received"
	WebhookEventProcessed WebhookEventStatus = "processed"
)

// WebhookEvent is the first-write-wins idempotency record for one
// billing-provider delivery.
type WebhookEvent struct {
	DocID           string
	ProviderEventID string
	EventType       string
	RCAppUserID     string
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
	PayloadJSON     []byte
	Status          WebhookEventStatus
	Version         int64
}

// EventDocID computes the store document id for an event: "rc_{providerEventId}"
// when present, else a deterministic hash of the (userId, eventType,
// periodStart, periodEnd) tuple, so duplicate deliveries of the same
// logical event collide on the same document id even without a provider id.
func EventDocID(providerEventID, userID, eventType, periodStart, periodEnd string) string {
	if providerEventID != "" {
		return "rc_" + providerEventID
	}
	h := sha256.New()
	h.Write([]byte(userID + ":" + eventType + ":" + periodStart + ":" + periodEnd))
	return "rc_" + hex.EncodeToString(h.Sum(nil))
}

// NormalizeEventType uppercases and trims an inbound event-type string.
func NormalizeEventType(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// BillingEventPayload is the inbound shape from the billing provider
// webhook, post-normalization: timestamps already coerced to time.Time or
// absent, RawEvent holding the untouched wire bytes for forensics.
// ParseBillingEventPayload constructs one from the raw delivery.
type BillingEventPayload struct {
	UserID             string
	EventID            string // optional provider event id
	EventType          string
	RCAppUserID        string
	ProductID          string
	EntitlementIDs     []string
	Platform           string
	WillRenew          *bool
	PeriodStart        *time.Time
	PeriodEnd          *time.Time
	OriginalPurchaseAt *time.Time
	RawEvent           []byte
}

// wireBillingEvent is the JSON shape delivered by the billing provider.
// Timestamp fields arrive as either an epoch number (seconds or
// milliseconds) or an ISO-8601 string; flexibleTime accepts both.
type wireBillingEvent struct {
	AppUserID string `json:"app_user_id"`
	Event     struct {
		ID                 string       `json:"id"`
		Type               string       `json:"type"`
		ProductID          string       `json:"product_id"`
		EntitlementIDs     []string     `json:"entitlement_ids"`
		Store              string       `json:"store"`
		AutoRenewStatus    *bool        `json:"auto_renew_status"`
		PeriodStart        flexibleTime `json:"period_start_ms"`
		PeriodEnd          flexibleTime `json:"period_end_ms"`
		OriginalPurchaseAt flexibleTime `json:"original_purchase_date_ms"`
	} `json:"event"`
}

// ParseBillingEventPayload normalizes a raw webhook delivery into a
// BillingEventPayload, coercing epoch-or-ISO timestamps to UTC
// time.Time and retaining raw for forensic storage.
func ParseBillingEventPayload(raw []byte) (BillingEventPayload, error) {
	var w wireBillingEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return BillingEventPayload{}, fmt.Errorf("parse billing event: %w", err)
	}
	return BillingEventPayload{
		UserID:             w.AppUserID,
		EventID:            w.Event.ID,
		EventType:          w.Event.Type,
		RCAppUserID:        w.AppUserID,
		ProductID:          w.Event.ProductID,
		EntitlementIDs:     w.Event.EntitlementIDs,
		Platform:           w.Event.Store,
		WillRenew:          w.Event.AutoRenewStatus,
		PeriodStart:        w.Event.PeriodStart.t,
		PeriodEnd:          w.Event.PeriodEnd.t,
		OriginalPurchaseAt: w.Event.OriginalPurchaseAt.t,
		RawEvent:           raw,
	}, nil
}

// flexibleTime unmarshals either a JSON number (epoch seconds or
// milliseconds — values above 1e12 are treated as milliseconds) or an
// ISO-8601 string, normalizing both to UTC. An empty/null value leaves t nil.
type flexibleTime struct {
	t *time.Time
}

func (f *flexibleTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" || s == `""` {
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("flexible time string: %w", err)
		}
		if str == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return fmt.Errorf("flexible time iso8601 %q: %w", str, err)
		}
		parsed = parsed.UTC()
		f.t = &parsed
		return nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("flexible time epoch %q: %w", s, err)
	}
	var parsed time.Time
	if n > 1_000_000_000_000 {
		parsed = time.UnixMilli(n).UTC()
	} else {
		parsed = time.Unix(n, 0).UTC()
	}
	f.t = &parsed
	return nil
}
