package bot

import (
	"fmt"
	"os"
	"strings"

	"mediafetch/entity"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
)

// ErrDeliveryPaused marks sends skipped because the user paused delivery.
// The delivery layer treats it as permanent; the task is recorded failed
// instead of being retried against a chat that asked for silence.
var ErrDeliveryPaused = fmt.Errorf("delivery paused by user")

// SendText delivers a text content item into a home-account chat.
// Content text goes out verbatim, without MarkdownV2 formatting, so captions
// pulled from the source platform never break on reserved characters.
func (t *TgBot) SendText(homeAccountId int64, text string) error {
	if paused := t.deliveryPaused(homeAccountId); paused {
		return ErrDeliveryPaused
	}

	_, err := t.api.SendMessage(homeAccountId, text, &tgbotapi.SendMessageOpts{})
	if err != nil {
		return fmt.Errorf("sending text: %w", err)
	}
	return nil
}

// SendMedia uploads a fetched artifact into a home-account chat. Photos and
// videos are routed by MIME type; anything else goes out as a document.
func (t *TgBot) SendMedia(homeAccountId int64, artifact *entity.MediaArtifact, caption string) error {
	if paused := t.deliveryPaused(homeAccountId); paused {
		return ErrDeliveryPaused
	}

	file, err := os.Open(artifact.Path)
	if err != nil {
		return fmt.Errorf("opening artifact: %w", err)
	}
	defer file.Close()

	upload := tgbotapi.InputFileByReader(artifact.Path, file)

	switch {
	case strings.HasPrefix(artifact.MimeType, "image/"):
		_, err = t.api.SendPhoto(homeAccountId, upload, &tgbotapi.SendPhotoOpts{
			Caption: caption,
		})
	case strings.HasPrefix(artifact.MimeType, "video/"):
		_, err = t.api.SendVideo(homeAccountId, upload, &tgbotapi.SendVideoOpts{
			Caption: caption,
		})
	default:
		_, err = t.api.SendDocument(homeAccountId, upload, &tgbotapi.SendDocumentOpts{
			Caption: caption,
		})
	}
	if err != nil {
		return fmt.Errorf("sending media: %w", err)
	}
	return nil
}

// deliveryPaused reports whether the chat owner disabled content delivery.
// Unknown chats count as paused: a binding can outlive the user record only
// through manual DB edits, and guessing a send there helps nobody.
func (t *TgBot) deliveryPaused(homeAccountId int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	user, ok := t.users[homeAccountId]
	if !ok {
		return true
	}
	return !user.TelegramEnabled || !user.IsApproved()
}
