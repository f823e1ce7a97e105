package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mediafetch/entity"

	"github.com/google/uuid"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// usersCmd lists all registered Telegram users, grouped by role.
// Sends approve/revoke inline buttons for each pending user.
func (t *TgBot) usersCmd(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	if !t.requireAdmin(chatId) {
		t.plainResponse(chatId, "Admin access required\\.")
		return nil
	}

	t.mu.RLock()
	users := make([]*entity.User, 0, len(t.users))
	for _, u := range t.users {
		users = append(users, u)
	}
	t.mu.RUnlock()

	if len(users) == 0 {
		t.plainResponse(chatId, "No telegram users found\\.")
		return nil
	}

	// Group by role
	grouped := map[entity.TelegramRole][]*entity.User{}
	for _, u := range users {
		grouped[u.TelegramRole] = append(grouped[u.TelegramRole], u)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Users* \\(%d total\\)\n", len(users)))

	roleOrder := []entity.TelegramRole{entity.RoleAdmin, entity.RoleUser, entity.RolePending, entity.RoleNone}
	// Collect pending users to show with action buttons
	var pendingUsers []*entity.User
	for _, role := range roleOrder {
		roleUsers, ok := grouped[role]
		if !ok || len(roleUsers) == 0 {
			continue
		}
		roleName := string(role)
		if roleName == "" {
			roleName = "none"
		}
		sb.WriteString(fmt.Sprintf("\n*%s* \\(%d\\):\n", Sanitize(roleName), len(roleUsers)))
		for _, u := range roleUsers {
			delivery := "paused"
			if u.TelegramEnabled {
				delivery = "active"
			}
			source := "unbound"
			if b := t.activeBinding(u.TelegramId); b != nil {
				source = b.SourceAccountId
			}
			sb.WriteString(fmt.Sprintf("  %s \\| %s \\| source:%s\n",
				Sanitize(userDisplayName(u)),
				Sanitize(delivery),
				Sanitize(source),
			))
			if role == entity.RolePending {
				pendingUsers = append(pendingUsers, u)
			}
		}
	}

	parts := splitMessage(sb.String(), maxTelegramMessageLen)
	for _, part := range parts {
		t.plainResponse(chatId, part)
	}

	// Send individual messages with approve/revoke buttons for each pending user
	for _, u := range pendingUsers {
		keyboard := buildPendingUserButtons(u.TelegramId)
		t.sendWithKeyboard(chatId,
			fmt.Sprintf("Pending: %s", Sanitize(userDisplayName(u))),
			keyboard,
		)
	}
	return nil
}

// approve sets a user's role to RoleUser and enables content delivery.
func (t *TgBot) approve(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	if !t.requireAdmin(chatId) {
		t.plainResponse(chatId, "Admin access required\\.")
		return nil
	}

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 2 {
		t.plainResponse(chatId, "Usage: `/approve <id|@username>`")
		return nil
	}

	target := t.resolveUser(args[1])
	if target == nil {
		t.plainResponse(chatId, "User not found: "+Sanitize(args[1]))
		return nil
	}

	err := t.db.SetTelegramRole(target.TelegramId, entity.RoleUser)
	if err != nil {
		t.reportError(chatId, "/approve", err)
		return nil
	}

	t.plainResponse(chatId, "User "+Sanitize(userDisplayName(target))+" approved\\.")
	t.plainResponse(target.TelegramId, "Your registration has been approved\\! Use /bind to link a source account\\.")
	t.loadUsers()
	t.setUserCommands(target.TelegramId, entity.RoleUser)
	return nil
}

// revoke sets a user's role to RoleNone, disabling all access, and drops
// their active binding so content stops flowing immediately.
func (t *TgBot) revoke(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	if !t.requireAdmin(chatId) {
		t.plainResponse(chatId, "Admin access required\\.")
		return nil
	}

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 2 {
		t.plainResponse(chatId, "Usage: `/revoke <id|@username>`")
		return nil
	}

	target := t.resolveUser(args[1])
	if target == nil {
		t.plainResponse(chatId, "User not found: "+Sanitize(args[1]))
		return nil
	}

	err := t.db.SetTelegramRole(target.TelegramId, entity.RoleNone)
	if err != nil {
		t.reportError(chatId, "/revoke", err)
		return nil
	}
	if t.core != nil {
		_, _ = t.core.RevokeBinding(target.TelegramId)
	}

	t.plainResponse(chatId, "User "+Sanitize(userDisplayName(target))+" revoked\\.")
	t.plainResponse(target.TelegramId, "Your access has been revoked\\.")
	t.loadUsers()
	t.setUserCommands(target.TelegramId, entity.RoleNone)
	return nil
}

// adminCmd promotes an approved user to admin role.
func (t *TgBot) adminCmd(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	if !t.requireAdmin(chatId) {
		t.plainResponse(chatId, "Admin access required\\.")
		return nil
	}

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 2 {
		t.plainResponse(chatId, "Usage: `/admin <id|@username>`")
		return nil
	}

	target := t.resolveUser(args[1])
	if target == nil {
		t.plainResponse(chatId, "User not found: "+Sanitize(args[1]))
		return nil
	}

	if !target.IsApproved() {
		t.plainResponse(chatId, "User must be approved first\\.")
		return nil
	}

	err := t.db.SetTelegramRole(target.TelegramId, entity.RoleAdmin)
	if err != nil {
		t.reportError(chatId, "/admin", err)
		return nil
	}

	t.plainResponse(chatId, "User "+Sanitize(userDisplayName(target))+" promoted to admin\\.")
	t.plainResponse(target.TelegramId, "You have been promoted to admin\\!")
	t.loadUsers()
	t.setUserCommands(target.TelegramId, entity.RoleAdmin)
	return nil
}

// invite generates a single-use invite code and returns a Telegram deep link.
// New users opening the deep link are auto-approved without admin intervention.
func (t *TgBot) invite(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	if !t.requireAdmin(chatId) {
		t.plainResponse(chatId, "Admin access required\\.")
		return nil
	}

	code := uuid.New().String()[:t.config.InviteCodeLength]

	inviteCode := &entity.InviteCode{
		Code:      code,
		CreatedBy: chatId,
		CreatedAt: time.Now(),
		MaxUses:   1,
		UseCount:  0,
	}

	err := t.db.CreateInviteCode(inviteCode)
	if err != nil {
		t.reportError(chatId, "/invite", err)
		return nil
	}

	botUsername := t.api.Username
	deepLink := fmt.Sprintf("https://t.me/%s?start=%s", botUsername, code)
	t.plainResponse(chatId, fmt.Sprintf("Invite code: `%s`\nDeep link: %s", Sanitize(code), Sanitize(deepLink)))
	return nil
}

// failed lists delivery tasks that exhausted their retries in the last day.
// Accepts an optional hour count: /failed 6
func (t *TgBot) failed(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	if !t.requireAdmin(chatId) {
		t.plainResponse(chatId, "Admin access required\\.")
		return nil
	}

	hours := 24
	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) > 1 {
		if h, err := strconv.Atoi(args[1]); err == nil && h > 0 {
			hours = h
		}
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	tasks, err := t.db.ListFailedDeliveryTasks(since)
	if err != nil {
		t.reportError(chatId, "/failed", err)
		return nil
	}
	if len(tasks) == 0 {
		t.plainResponse(chatId, fmt.Sprintf("No failed deliveries in the last %d hours\\.", hours))
		return nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Failed deliveries* \\(last %dh, %d total\\):\n", hours, len(tasks)))
	for _, task := range tasks {
		sb.WriteString(fmt.Sprintf("`%s` → %d: %s\n",
			Sanitize(task.ContentRef),
			task.HomeAccountId,
			Sanitize(task.ErrorDetail),
		))
	}

	parts := splitMessage(sb.String(), maxTelegramMessageLen)
	for _, part := range parts {
		t.plainResponse(chatId, part)
	}
	return nil
}
