package entity

import (
	"net/http"
	"time"

	"mediafetch/lib/validate"
)

// TelegramRole controls access level within the bot.
// Role hierarchy: RoleNone < RolePending < RoleUser < RoleAdmin.
type TelegramRole string

const (
	RoleNone    TelegramRole = ""        // unregistered or revoked
	RolePending TelegramRole = "pending" // registered, awaiting admin approval
	RoleUser    TelegramRole = "user"    // approved, can bind accounts and receive content
	RoleAdmin   TelegramRole = "admin"   // full access, can manage other users
)

// User represents both an API user (Token-based auth) and a Telegram bot
// subscriber. Telegram-specific fields are populated during bot registration
// (/start command). TelegramEnabled pauses content delivery when false; the
// binding itself stays active.
type User struct {
	Username         string       `json:"username" bson:"username" validate:"required"`
	Name             string       `json:"name" bson:"name" validate:"omitempty"`
	Token            string       `json:"token" bson:"token" validate:"required,min=1"`
	TelegramId       int64        `json:"telegram_id" bson:"telegram_id" validate:"omitempty"`
	TelegramUsername string       `json:"telegram_username" bson:"telegram_username"`
	TelegramEnabled  bool         `json:"telegram_enabled" bson:"telegram_enabled" validate:"omitempty"`
	TelegramRole     TelegramRole `json:"telegram_role" bson:"telegram_role"`
	RegisteredAt     time.Time    `json:"registered_at" bson:"registered_at"`
}

func (u *User) Bind(_ *http.Request) error {
	return validate.Struct(u)
}

func (u *User) IsAdmin() bool {
	return u.TelegramRole == RoleAdmin
}

func (u *User) IsApproved() bool {
	return u.TelegramRole == RoleUser || u.TelegramRole == RoleAdmin
}

func (u *User) IsPending() bool {
	return u.TelegramRole == RolePending
}
