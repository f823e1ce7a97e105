package bot

import (
	"log/slog"
)

// adminAlertLevel is the minimum severity forwarded to admin chats.
// Routine log records stay in the file log; admins only hear about warnings
// and errors.
const adminAlertLevel = slog.LevelWarn

func (t *TgBot) SendMessage(msg string) {
	t.SendMessageWithLevel(msg, slog.LevelInfo)
}

// SendMessageWithLevel forwards a log message to admin chats. Used by the
// slog Telegram handler so operational problems surface without anyone
// watching the log file. Admins who paused delivery are skipped.
func (t *TgBot) SendMessageWithLevel(msg string, level slog.Level) {
	if level < adminAlertLevel {
		return
	}

	t.mu.RLock()
	targets := make([]int64, 0, len(t.adminIds))
	for _, id := range t.adminIds {
		user, ok := t.users[id]
		if !ok || !user.TelegramEnabled {
			continue
		}
		targets = append(targets, id)
	}
	t.mu.RUnlock()

	for _, id := range targets {
		t.plainResponse(id, msg)
	}
}
