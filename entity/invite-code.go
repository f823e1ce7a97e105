package entity

import "time"

// InviteCode allows admins to generate one-time registration links.
// Users open a deep link (t.me/bot?start=CODE) which auto-approves them.
// UseInviteCode atomically increments UseCount and checks against MaxUses.
// Not to be confused with BindingCode, which links a source account.
type InviteCode struct {
	Code      string    `json:"code" bson:"code"`
	CreatedBy int64     `json:"created_by" bson:"created_by"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UsedBy    int64     `json:"used_by" bson:"used_by"`
	UsedAt    time.Time `json:"used_at,omitempty" bson:"used_at,omitempty"`
	MaxUses   int       `json:"max_uses" bson:"max_uses"`
	UseCount  int       `json:"use_count" bson:"use_count"`
}
