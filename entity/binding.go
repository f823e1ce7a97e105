package entity

import "time"

// Binding is the durable link between one Telegram user (home account) and one
// source account. At most one active binding may exist per home account and
// per source account; both invariants are backed by partial unique indexes in
// the store. Revocation deactivates the binding, the row is kept for audit.
type Binding struct {
	Id              string    `json:"id" bson:"id"`
	HomeAccountId   int64     `json:"home_account_id" bson:"home_account_id"`
	SourceAccountId string    `json:"source_account_id" bson:"source_account_id"`
	OriginatingCode string    `json:"originating_code" bson:"originating_code"`
	BoundAt         time.Time `json:"bound_at" bson:"bound_at"`
	Active          bool      `json:"active" bson:"active"`
	RevokedAt       time.Time `json:"revoked_at,omitempty" bson:"revoked_at,omitempty"`
}
