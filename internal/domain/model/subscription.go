package model

import "time"

// SubscriptionStatus is the lifecycle state of a user's subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive       SubscriptionStatus = "active"
	SubscriptionStatusCancelled    SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired      SubscriptionStatus = "expired"
	SubscriptionStatusRefunded     SubscriptionStatus = "refunded"
	SubscriptionStatusBillingIssue SubscriptionStatus = "billing_issue"
)

// Subscription is the single per-user subscription document, keyed by
// userId. isActive is derived, never stored independently of status: it
// is true iff status is active or cancelled (a cancelled subscription
// remains usable until period end).
type Subscription struct {
	UserID   string
	Platform string
	// RCAppUserID is the provider's own app-user identifier, carried but
	// not interpreted.
	RCAppUserID string
	ProductID   string

	PlanID  string
	PlanKey string
	Cycle   Cycle

	EntitlementIDs []string

	IsActive  bool
	WillRenew bool
	Status    SubscriptionStatus

	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	LastEventAt        *time.Time
	OriginalPurchaseAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeriveIsActive reports whether status counts as active usage rights:
// true iff status is active or cancelled (a cancelled subscription
// remains usable until period end).
func DeriveIsActive(status SubscriptionStatus) bool {
	return status == SubscriptionStatusActive || status == SubscriptionStatusCancelled
}

// EffectivePeriodEnd returns the subscription's period end, or nil if
// unset.
func (s *Subscription) EffectivePeriodEnd() *time.Time {
	return s.CurrentPeriodEnd
}
