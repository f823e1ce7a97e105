package entity

import "time"

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryTask is one unit of content fan-out: a single content item heading
// to a single bound home account. Tasks are created at most once per
// (binding, content item) pair; the store enforces this with a unique index,
// so re-delivered feed events never fan out twice.
type DeliveryTask struct {
	Id              string         `json:"id" bson:"id"`
	BindingId       string         `json:"binding_id" bson:"binding_id"`
	SourceAccountId string         `json:"source_account_id" bson:"source_account_id"`
	HomeAccountId   int64          `json:"home_account_id" bson:"home_account_id"`
	ContentRef      string         `json:"content_ref" bson:"content_ref"`
	ContentType     ContentType    `json:"content_type" bson:"content_type"`
	Status          DeliveryStatus `json:"status" bson:"status"`
	CreatedAt       time.Time      `json:"created_at" bson:"created_at"`
	CompletedAt     time.Time      `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	ErrorDetail     string         `json:"error_detail,omitempty" bson:"error_detail,omitempty"`
}

// DeliveryResult summarizes one content event after fan-out.
// Failed deliveries are recorded per task and never abort sibling tasks,
// so Delivered and Failed can both be non-zero for the same event.
type DeliveryResult struct {
	SourceAccountId string `json:"source_account_id"`
	ContentRef      string `json:"content_ref"`
	NoSubscribers   bool   `json:"no_subscribers"`
	Created         int    `json:"created"`
	Duplicates      int    `json:"duplicates"`
	Resumed         int    `json:"resumed"`
	Delivered       int    `json:"delivered"`
	Failed          int    `json:"failed"`
}
