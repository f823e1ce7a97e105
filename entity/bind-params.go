package entity

import (
	"net/http"
	"time"

	"mediafetch/lib/validate"
)

// CodeRequest asks for a new binding code on behalf of a home account.
type CodeRequest struct {
	HomeAccountId int64 `json:"home_account_id" validate:"required,gt=0"`
}

func (p *CodeRequest) Bind(_ *http.Request) error {
	return validate.Struct(p)
}

// CodeGrant is returned to the requester on successful issuance.
type CodeGrant struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedeemRequest confirms a binding from the source-account side.
type RedeemRequest struct {
	Code            string `json:"code" validate:"required,min=6,max=10,alphanum"`
	SourceAccountId string `json:"source_account_id" validate:"required,min=1"`
}

func (p *RedeemRequest) Bind(_ *http.Request) error {
	return validate.Struct(p)
}

// RedeemResult identifies the home account a redeemed code belonged to.
type RedeemResult struct {
	HomeAccountId int64 `json:"home_account_id"`
}
