package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"tg_digest/internal/model"
	"tg_digest/internal/storage"
	"tg_digest/internal/summarizer"
)

const recentSummariesLimit = 30

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `🤖 Бот-суммаризатор запущен.

Бот собирает сообщения отслеживаемых каналов и по запросу делает краткую сводку.

Команда: /summary – создать сводку по активному каналу.
Полный список команд: /help`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Каналы:
/channels — список каналов
/add <username> [название] — добавить канал
/toggle <id> — включить или выключить мониторинг
/remove <id> — удалить канал

Сводки:
/summary [id] — сводка новых сообщений (без id — первый активный канал)
/summaries [id] — последние сводки
/stats — статистика`)
}

func (b *Bot) handleChannels(ctx context.Context, chatID int64) {
	channels, err := b.store.ListChannels(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Ошибка: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatChannelList(channels))
	msg.DisableWebPagePreview = true
	if kb := channelKeyboard(channels); kb != nil {
		msg.ReplyMarkup = *kb
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send channel list", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	username, title, err := ParseAddArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	if existing, err := b.store.GetChannelByUsername(ctx, username); err == nil {
		b.reply(chatID, fmt.Sprintf("Канал @%s уже добавлен (#%d).", existing.Username, existing.ID))
		return
	}

	ch := &model.Channel{Username: username, Title: title, Monitored: true}
	if err := b.store.CreateChannel(ctx, ch); err != nil {
		b.reply(chatID, fmt.Sprintf("Не удалось сохранить канал: %v", err))
		return
	}
	b.refreshRegistry(ctx)

	b.reply(chatID, fmt.Sprintf("Канал добавлен: #%d %s (@%s), мониторинг включён.", ch.ID, ch.Title, ch.Username))
}

func (b *Bot) handleToggle(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Использование: /toggle <id>")
		return
	}

	ch, err := b.store.GetChannel(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Канал #%d не найден.", id))
		return
	}

	monitored, err := b.store.ToggleMonitored(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Ошибка: %v", err))
		return
	}
	b.refreshRegistry(ctx)

	b.reply(chatID, fmt.Sprintf("Канал #%d %s: %s.", ch.ID, ch.Title, monitoredLabel(monitored)))
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Использование: /remove <id>")
		return
	}

	ch, err := b.store.GetChannel(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Канал #%d не найден.", id))
		return
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Удалить канал #%d \"%s\"? Его сводки будут удалены.", ch.ID, ch.Title))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Да, удалить", fmt.Sprintf("%s:%d", cbDelete, ch.ID)),
			tgbotapi.NewInlineKeyboardButtonData("Отмена", cbNoop+":0"),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send delete confirmation", "error", err)
	}
}

func (b *Bot) deleteChannel(ctx context.Context, chatID, id int64) {
	ch, err := b.store.GetChannel(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Канал #%d не найден.", id))
		return
	}
	if err := b.store.DeleteChannel(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Ошибка удаления канала: %v", err))
		return
	}
	b.refreshRegistry(ctx)
	b.reply(chatID, fmt.Sprintf("Канал #%d \"%s\" удалён.", id, ch.Title))
}

// handleSummary starts a summary in the background so that channel posts keep
// flowing while the provider works.
func (b *Bot) handleSummary(ctx context.Context, chatID int64, args string) {
	var ch *model.Channel
	if args == "" {
		channels, err := b.store.ListMonitoredChannels(ctx)
		if err != nil {
			b.reply(chatID, fmt.Sprintf("Ошибка: %v", err))
			return
		}
		if len(channels) == 0 {
			b.reply(chatID, "Нет активных каналов. Добавьте канал: /add <username>")
			return
		}
		ch = &channels[0]
	} else {
		id, err := ParseIDArg(args)
		if err != nil {
			b.reply(chatID, "Использование: /summary [id]")
			return
		}
		if ch, err = b.store.GetChannel(ctx, id); err != nil {
			b.reply(chatID, fmt.Sprintf("Канал #%d не найден.", id))
			return
		}
	}

	b.reply(chatID, fmt.Sprintf("🔄 Анализирую новые сообщения канала %s...", ch.Title))
	b.wg.Go(func() {
		b.runSummary(ctx, chatID, ch)
	})
}

func (b *Bot) runSummary(ctx context.Context, chatID int64, ch *model.Channel) {
	rep, err := b.summaries.RequestSummary(ctx, ch.ID)
	switch {
	case errors.Is(err, summarizer.ErrNoMessages):
		b.reply(chatID, fmt.Sprintf("✅ Новых сообщений в канале %s нет.", ch.Title))
	case errors.Is(err, summarizer.ErrBusy):
		b.reply(chatID, fmt.Sprintf("⏳ Сводка по каналу %s уже готовится.", ch.Title))
	case errors.Is(err, storage.ErrConflict):
		b.reply(chatID, fmt.Sprintf("⚠️ Сообщения канала %s уже вошли в другую сводку. Повторите запрос.", ch.Title))
	case err != nil:
		b.log.Error("summary failed", "channel_id", ch.ID, "error", err)
		b.reply(chatID, "⚠️ Произошла ошибка при обработке данных.")
	default:
		b.reply(chatID, FormatSummary(rep.Channel.Title, rep.Summary))
	}
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	stats, err := b.store.Stats(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Ошибка: %v", err))
		return
	}
	b.reply(chatID, FormatStats(stats))
}

func (b *Bot) handleSummaries(ctx context.Context, chatID int64, args string) {
	if args == "" {
		sums, err := b.store.ListRecentSummaries(ctx, recentSummariesLimit)
		if err != nil {
			b.reply(chatID, fmt.Sprintf("Ошибка: %v", err))
			return
		}
		b.reply(chatID, FormatSummaryList(sums))
		return
	}

	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Использование: /summaries [id]")
		return
	}
	ch, err := b.store.GetChannel(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Канал #%d не найден.", id))
		return
	}
	sums, err := b.store.ListSummaries(ctx, id, recentSummariesLimit)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Ошибка: %v", err))
		return
	}
	b.reply(chatID, FormatSummaryList(lo.Map(sums, func(s model.Summary, _ int) model.SummaryWithChannel {
		return model.SummaryWithChannel{Summary: s, ChannelTitle: ch.Title}
	})))
}
