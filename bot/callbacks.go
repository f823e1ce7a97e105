package bot

import (
	"fmt"
	"strconv"
	"strings"

	"mediafetch/entity"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// Callback data prefixes for inline keyboard buttons.
// Telegram limits callback data to 64 bytes, so prefixes are kept short.
// Format: prefix + value (e.g., "u:yes", "a:123456").
const (
	cbUnbind  = "u:" // u:yes, u:no
	cbApprove = "a:" // a:<telegram_id>
	cbRevoke  = "r:" // r:<telegram_id>
)

// --- Keyboard builders ---

// buildUnbindButtons creates the confirm/cancel buttons for /unbind.
func buildUnbindButtons() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{
			{
				{Text: "Unbind ✓", CallbackData: cbUnbind + "yes"},
				{Text: "Keep binding", CallbackData: cbUnbind + "no"},
			},
		},
	}
}

// buildPendingUserButtons creates approve/revoke buttons for a pending user.
func buildPendingUserButtons(telegramId int64) tgbotapi.InlineKeyboardMarkup {
	idStr := strconv.FormatInt(telegramId, 10)
	return tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{
			{
				{Text: "Approve ✓", CallbackData: cbApprove + idStr},
				{Text: "Revoke ✗", CallbackData: cbRevoke + idStr},
			},
		},
	}
}

// --- Callback handlers ---
// All callback handlers follow the same pattern:
//  1. Verify authorization (approved/admin)
//  2. Parse callback data (trim prefix)
//  3. Update state through the facade or DB
//  4. Reload users cache if needed
//  5. Edit the message in-place to show the outcome
//  6. Answer the callback query (removes loading spinner)

// onUnbindCallback finishes the /unbind confirmation dialog.
func (t *TgBot) onUnbindCallback(_ *tgbotapi.Bot, ctx *ext.Context) error {
	cq := ctx.CallbackQuery
	chatId := cq.From.Id

	if !t.requireApproved(chatId) {
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Not authorized", ShowAlert: true})
		return nil
	}

	choice := strings.TrimPrefix(cq.Data, cbUnbind)
	if choice != "yes" {
		t.editMessageText(cq, "Binding kept\\.")
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Cancelled"})
		return nil
	}

	if t.core == nil {
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Service not available"})
		return nil
	}

	revoked, err := t.core.RevokeBinding(chatId)
	if err != nil {
		t.reportError(chatId, "unbind:callback", err)
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Error occurred"})
		return nil
	}
	if !revoked {
		t.editMessageText(cq, "No active binding to revoke\\.")
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Nothing to do"})
		return nil
	}

	t.editMessageText(cq, "Binding revoked\\. Use /bind to link a new source account\\.")
	_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Unbound"})
	return nil
}

// onApproveCallback handles the inline "Approve" button for pending users.
// After approval, replaces the buttons with a confirmation message.
func (t *TgBot) onApproveCallback(_ *tgbotapi.Bot, ctx *ext.Context) error {
	cq := ctx.CallbackQuery
	chatId := cq.From.Id

	if !t.requireAdmin(chatId) {
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Admin access required", ShowAlert: true})
		return nil
	}

	idStr := strings.TrimPrefix(cq.Data, cbApprove)
	targetId, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Invalid user ID"})
		return nil
	}

	target := t.findUser(targetId)
	if target == nil {
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "User not found"})
		return nil
	}

	err = t.db.SetTelegramRole(target.TelegramId, entity.RoleUser)
	if err != nil {
		t.reportError(chatId, "approve:callback", err)
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Error occurred"})
		return nil
	}

	t.loadUsers()
	t.setUserCommands(target.TelegramId, entity.RoleUser)

	// Update the message to show result instead of buttons
	if msg := cq.Message; msg != nil {
		if im, ok := msg.(tgbotapi.Message); ok {
			_, _, _ = t.api.EditMessageText(
				fmt.Sprintf("%s\n\n✓ Approved by %s", im.Text, Sanitize(userDisplayName(t.findUser(chatId)))),
				&tgbotapi.EditMessageTextOpts{
					ChatId:    chatId,
					MessageId: im.MessageId,
				},
			)
		}
	}

	t.plainResponse(target.TelegramId, "Your registration has been approved\\! Use /bind to link a source account\\.")

	_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{
		Text: "User approved",
	})
	return nil
}

// onRevokeCallback handles the inline "Revoke" button for pending users.
// After revocation, replaces the buttons with a confirmation message.
func (t *TgBot) onRevokeCallback(_ *tgbotapi.Bot, ctx *ext.Context) error {
	cq := ctx.CallbackQuery
	chatId := cq.From.Id

	if !t.requireAdmin(chatId) {
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Admin access required", ShowAlert: true})
		return nil
	}

	idStr := strings.TrimPrefix(cq.Data, cbRevoke)
	targetId, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Invalid user ID"})
		return nil
	}

	target := t.findUser(targetId)
	if target == nil {
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "User not found"})
		return nil
	}

	err = t.db.SetTelegramRole(target.TelegramId, entity.RoleNone)
	if err != nil {
		t.reportError(chatId, "revoke:callback", err)
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Error occurred"})
		return nil
	}
	if t.core != nil {
		_, _ = t.core.RevokeBinding(target.TelegramId)
	}

	t.loadUsers()
	t.setUserCommands(target.TelegramId, entity.RoleNone)

	// Update the message to show result instead of buttons
	if msg := cq.Message; msg != nil {
		if im, ok := msg.(tgbotapi.Message); ok {
			_, _, _ = t.api.EditMessageText(
				fmt.Sprintf("%s\n\n✗ Revoked by %s", im.Text, Sanitize(userDisplayName(t.findUser(chatId)))),
				&tgbotapi.EditMessageTextOpts{
					ChatId:    chatId,
					MessageId: im.MessageId,
				},
			)
		}
	}

	t.plainResponse(target.TelegramId, "Your access has been revoked\\.")

	_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{
		Text: "User revoked",
	})
	return nil
}

// editMessageText replaces the text of the message a callback came from.
func (t *TgBot) editMessageText(cq *tgbotapi.CallbackQuery, text string) {
	msg := cq.Message
	if msg == nil {
		return
	}
	im, ok := msg.(tgbotapi.Message)
	if !ok {
		return
	}
	_, _, _ = t.api.EditMessageText(text, &tgbotapi.EditMessageTextOpts{
		ChatId:    cq.From.Id,
		MessageId: im.MessageId,
		ParseMode: "MarkdownV2",
	})
}
