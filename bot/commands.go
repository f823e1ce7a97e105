package bot

import (
	"errors"
	"fmt"
	"strings"

	"mediafetch/entity"
	"mediafetch/lib/sl"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

func (t *TgBot) start(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	user := t.findUser(chatId)

	// Case 1: Known approved user — re-enable delivery
	if user != nil && user.IsApproved() {
		err := t.db.SetTelegramEnabled(user.TelegramId, true)
		if err != nil {
			t.reportError(chatId, "/start", err)
			return nil
		}
		t.plainResponse(chatId, "Content delivery ENABLED\\. Use /bind to link a source account\\.")
		t.loadUsers()
		return nil
	}

	// Case 2: Known pending user
	if user != nil && user.IsPending() {
		t.plainResponse(chatId, "Your registration is awaiting admin approval\\.")
		return nil
	}

	// Case 3: Unknown user — register
	username := ctx.EffectiveUser.Username

	// Check for invite code in args (/start CODE via deep link)
	args := strings.Fields(ctx.EffectiveMessage.Text)
	hasValidCode := false
	if len(args) > 1 {
		code := args[1]
		err := t.db.UseInviteCode(code, chatId)
		if err == nil {
			hasValidCode = true
		}
	}

	err := t.db.RegisterTelegramUser(chatId, username)
	if err != nil {
		t.reportError(chatId, "/start register", err)
		return nil
	}

	if hasValidCode || !t.config.RequireApproval {
		// Auto-approve with valid invite code or when approval not required
		err = t.db.SetTelegramRole(chatId, entity.RoleUser)
		if err != nil {
			t.reportError(chatId, "/start approve", err)
			return nil
		}

		t.plainResponse(chatId, "Welcome\\! You have been approved\\. Use /bind to link a source account\\.")
		t.notifyAdmins(fmt.Sprintf("New user auto\\-approved: @%s \\(%d\\)", Sanitize(username), chatId))
	} else {
		t.plainResponse(chatId, "Registration received\\. An admin will review your request\\.")
		t.notifyAdmins(fmt.Sprintf("New pending registration: @%s \\(%d\\)\\. Use `/approve %d` to approve\\.", Sanitize(username), chatId, chatId))
	}

	t.loadUsers()
	return nil
}

// bind requests a fresh one-time binding code for this chat. The code is
// typed into the source account's app to confirm the link.
func (t *TgBot) bind(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.requireApproved(chatId) {
		t.plainResponse(chatId, "You need to be approved first\\.")
		return nil
	}
	if t.core == nil {
		t.plainResponse(chatId, "Binding service not available\\.")
		return nil
	}

	code, err := t.core.RequestCode(chatId)
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrRateLimited):
			t.plainResponse(chatId, "Too many code requests\\. Please wait before trying again\\.")
		case errors.Is(err, entity.ErrAlreadyBound):
			t.plainResponse(chatId, "This chat is already bound to a source account\\. Use /unbind first\\.")
		case errors.Is(err, entity.ErrPendingExists):
			t.plainResponse(chatId, "You already have an unexpired code\\. Use it or wait for it to expire\\.")
		default:
			t.reportError(chatId, "/bind", err)
		}
		return nil
	}

	expires := code.ExpiresAt.Format("02 Jan 15:04 MST")
	t.plainResponse(chatId, fmt.Sprintf(
		"Your binding code: `%s`\nEnter it in the source account app to confirm\\.\nValid until %s\\.",
		Sanitize(code.Code), Sanitize(expires),
	))
	return nil
}

// unbind asks for confirmation before revoking the active binding.
func (t *TgBot) unbind(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.requireApproved(chatId) {
		t.plainResponse(chatId, "You need to be approved first\\.")
		return nil
	}
	if t.core == nil {
		t.plainResponse(chatId, "Binding service not available\\.")
		return nil
	}

	active := t.activeBinding(chatId)
	if active == nil {
		t.plainResponse(chatId, "This chat has no active binding\\.")
		return nil
	}

	t.sendWithKeyboard(chatId,
		fmt.Sprintf("Unbind from `%s`?", Sanitize(active.SourceAccountId)),
		buildUnbindButtons(),
	)
	return nil
}

// bindings lists the binding history of this chat, active entry first.
func (t *TgBot) bindings(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.requireApproved(chatId) {
		t.plainResponse(chatId, "You need to be approved first\\.")
		return nil
	}
	if t.core == nil {
		t.plainResponse(chatId, "Binding service not available\\.")
		return nil
	}

	list, err := t.core.ListBindings(chatId)
	if err != nil {
		t.reportError(chatId, "/bindings", err)
		return nil
	}
	if len(list) == 0 {
		t.plainResponse(chatId, "No bindings yet\\. Use /bind to link a source account\\.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString("*Your bindings:*\n")
	for _, b := range list {
		state := "revoked " + b.RevokedAt.Format("02 Jan 2006")
		if b.Active {
			state = "active"
		}
		sb.WriteString(fmt.Sprintf("`%s` \\- %s \\(since %s\\)\n",
			Sanitize(b.SourceAccountId),
			Sanitize(state),
			Sanitize(b.BoundAt.Format("02 Jan 2006")),
		))
	}
	t.plainResponse(chatId, sb.String())
	return nil
}

// pause suppresses content delivery without touching the binding.
func (t *TgBot) pause(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	if !t.requireApproved(chatId) {
		return nil
	}

	err := t.db.SetTelegramEnabled(chatId, false)
	if err != nil {
		t.reportError(chatId, "/pause", err)
		return nil
	}
	t.plainResponse(chatId, "Content delivery PAUSED\\. Your binding stays in place\\. Use /resume to continue\\.")
	t.loadUsers()
	return nil
}

func (t *TgBot) resume(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	if !t.requireApproved(chatId) {
		return nil
	}

	err := t.db.SetTelegramEnabled(chatId, true)
	if err != nil {
		t.reportError(chatId, "/resume", err)
		return nil
	}
	t.plainResponse(chatId, "Content delivery RESUMED")
	t.loadUsers()
	return nil
}

func (t *TgBot) status(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.requireApproved(chatId) {
		t.plainResponse(chatId, "You need to be approved first\\.")
		return nil
	}

	user := t.findUser(chatId)
	if user == nil {
		return nil
	}

	delivery := "active"
	if !user.TelegramEnabled {
		delivery = "paused"
	}

	bound := "none"
	if active := t.activeBinding(chatId); active != nil {
		bound = active.SourceAccountId
	}

	msg := fmt.Sprintf(
		"*Your Settings*\n"+
			"Role: `%s`\n"+
			"Delivery: `%s`\n"+
			"Bound source: `%s`",
		Sanitize(string(user.TelegramRole)),
		Sanitize(delivery),
		Sanitize(bound),
	)
	t.plainResponse(chatId, msg)
	return nil
}

func (t *TgBot) help(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	isAdmin := t.requireAdmin(chatId)
	isApproved := t.requireApproved(chatId)

	var sb strings.Builder
	sb.WriteString("*Available Commands*\n\n")

	sb.WriteString("`/start` \\- Register or enable delivery\n")
	sb.WriteString("`/help` \\- Show this help\n")

	if isApproved {
		sb.WriteString("\n*User Commands:*\n")
		sb.WriteString("`/bind` \\- Get a code to link a source account\n")
		sb.WriteString("`/unbind` \\- Revoke the active binding\n")
		sb.WriteString("`/bindings` \\- Show binding history\n")
		sb.WriteString("`/pause` \\- Pause content delivery\n")
		sb.WriteString("`/resume` \\- Resume content delivery\n")
		sb.WriteString("`/status` \\- Show your settings\n")
	}

	if isAdmin {
		sb.WriteString("\n*Admin Commands:*\n")
		sb.WriteString("`/users` \\- List all users\n")
		sb.WriteString("`/approve <id|@user>` \\- Approve a user\n")
		sb.WriteString("`/revoke <id|@user>` \\- Revoke a user\n")
		sb.WriteString("`/admin <id|@user>` \\- Promote to admin\n")
		sb.WriteString("`/invite` \\- Generate invite code\n")
		sb.WriteString("`/failed [hours]` \\- Show recent failed deliveries\n")
	}

	t.plainResponse(chatId, sb.String())
	return nil
}

// activeBinding returns the current binding of a chat, or nil.
func (t *TgBot) activeBinding(chatId int64) *entity.Binding {
	if t.core == nil {
		return nil
	}
	list, err := t.core.ListBindings(chatId)
	if err != nil {
		t.log.Warn("listing bindings", sl.Err(err))
		return nil
	}
	for _, b := range list {
		if b.Active {
			return b
		}
	}
	return nil
}
