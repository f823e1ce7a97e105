package entity

import "time"

// BindingCode is a short-lived credential proving control of a source account.
// A user requests a code in Telegram, then sends it from the source account;
// redeeming the code creates the Binding. Codes are single-use and expire after
// a fixed TTL. Used and expired codes are kept until the sweeper removes them.
type BindingCode struct {
	Code               string    `json:"code" bson:"code"`
	HomeAccountId      int64     `json:"home_account_id" bson:"home_account_id"`
	SourceUsernameHint string    `json:"source_username_hint,omitempty" bson:"source_username_hint,omitempty"`
	IssuedAt           time.Time `json:"issued_at" bson:"issued_at"`
	ExpiresAt          time.Time `json:"expires_at" bson:"expires_at"`
	Used               bool      `json:"used" bson:"used"`
	UsedAt             time.Time `json:"used_at,omitempty" bson:"used_at,omitempty"`
}

func (c *BindingCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// IsRedeemable reports whether the code can still be used for binding.
func (c *BindingCode) IsRedeemable(now time.Time) bool {
	return !c.Used && !c.IsExpired(now)
}
