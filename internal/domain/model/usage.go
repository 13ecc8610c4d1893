package model

import "time"

// UsageStatus is the lifecycle state of a reservation. reserved is the
// only non-terminal state; committed and rolled_back are sinks.
type UsageStatus string

const (
	UsageStatusReserved   UsageStatus = "reserved"
	UsageStatusCommitted  UsageStatus = "committed"
	UsageStatusRolledBack UsageStatus = "rolled_back"
)

// UsageRecord is the idempotency anchor for one metered-consumption
// attempt, document-id = "{userId}_{requestId}".
type UsageRecord struct {
	UserID    string
	WalletID  string
	RequestID string
	Action    string
	Amount    int64
	Status    UsageStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// DocID returns the composite store key for this record.
func (u *UsageRecord) DocID() string { return UsageDocID(u.UserID, u.RequestID) }

// UsageDocID computes the composite idempotency key for a reservation.
func UsageDocID(userID, requestID string) string {
	return userID + "_" + requestID
}

// IsTerminal reports whether the record has reached a sink state.
func (u *UsageRecord) IsTerminal() bool {
	return u.Status == UsageStatusCommitted || u.Status == UsageStatusRolledBack
}
