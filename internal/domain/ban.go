package domain

import "time"

// BanType scopes a shadow-ban restriction
type BanType string

const (
	BanWithdrawalOnly BanType = "withdrawal_only"
	BanTradingOnly    BanType = "trading_only"
	BanFullPlatform   BanType = "full_platform"
)

// BanStatus is the externally determined access restriction for a user
type BanStatus struct {
	IsActive  bool       `json:"isActive"`
	BanType   BanType    `json:"banType"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// BlocksMessaging reports whether the ban replaces the messaging surface
func (b *BanStatus) BlocksMessaging(now time.Time) bool {
	if b == nil || !b.IsActive {
		return false
	}
	if b.ExpiresAt != nil && !b.ExpiresAt.After(now) {
		return false
	}
	return b.BanType == BanFullPlatform
}
