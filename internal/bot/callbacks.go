package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdChannels = "channels"
	cmdToggle   = "toggle"
	cmdSummary  = "summary"

	cbDeleteConfirm = "delete_confirm"
	cbDelete        = "delete"
	cbNoop          = "noop"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 {
		return
	}

	action := parts[0]
	idStr := parts[1]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return
	}

	b.log.Info("callback",
		"action", action,
		"id", id,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdSummary:
		b.handleSummary(ctx, chatID, idStr)
	case cmdToggle:
		b.handleToggle(ctx, chatID, idStr)
	case cbDeleteConfirm:
		b.handleRemove(ctx, chatID, idStr)
	case cbDelete:
		b.deleteChannel(ctx, chatID, id)
	}
}
