package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg_digest/internal/model"
)

const (
	statusMonitored = "мониторинг"
	statusPaused    = "пауза"

	previewRunes = 300
)

// FormatSummary formats a digest as the message delivered to users.
func FormatSummary(title string, sum *model.Summary) string {
	return fmt.Sprintf("📊 Сводка: %s\n📅 Период: %s – %s\n\n%s",
		title,
		sum.RangeStart.Format("15:04"),
		sum.RangeEnd.Format("15:04"),
		sum.Content,
	)
}

// FormatChannelList formats all channels for display.
func FormatChannelList(channels []model.Channel) string {
	if len(channels) == 0 {
		return "Каналов пока нет. Добавьте канал: /add <username> [название]"
	}
	var b strings.Builder
	b.WriteString("Каналы:\n")
	for _, ch := range channels {
		fmt.Fprintf(&b, "\n#%d %s (@%s) [%s]", ch.ID, ch.Title, ch.Username, statusLabel(ch.Monitored))
	}
	return b.String()
}

// FormatStats formats store counters.
func FormatStats(s *model.Stats) string {
	var b strings.Builder
	b.WriteString("📈 Статистика\n\n")
	fmt.Fprintf(&b, "Каналов: %d (мониторинг: %d)\n", s.Channels, s.MonitoredChannels)
	fmt.Fprintf(&b, "Всего сообщений: %d\n", s.TotalMessages)
	fmt.Fprintf(&b, "Проанализировано: %d\n", s.ConsumedMessages)
	if s.LastSummaryAt != nil {
		fmt.Fprintf(&b, "Последняя сводка: %s", s.LastSummaryAt.Format("2006-01-02 15:04 UTC"))
	} else {
		b.WriteString("Последняя сводка: —")
	}
	return b.String()
}

// FormatSummaryList formats summaries newest first with a shortened body.
func FormatSummaryList(sums []model.SummaryWithChannel) string {
	if len(sums) == 0 {
		return "Сводок пока нет."
	}
	var b strings.Builder
	b.WriteString("Последние сводки:\n")
	for _, s := range sums {
		fmt.Fprintf(&b, "\n[%s] %s\n%s\n", s.CreatedAt.Format("2006-01-02 15:04"), s.ChannelTitle, truncate(s.Content, previewRunes))
	}
	return b.String()
}

func channelKeyboard(channels []model.Channel) *tgbotapi.InlineKeyboardMarkup {
	if len(channels) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(channels))
	for _, ch := range channels {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📊 "+ch.Title, fmt.Sprintf("%s:%d", cmdSummary, ch.ID)),
			tgbotapi.NewInlineKeyboardButtonData("⏯ "+statusLabel(!ch.Monitored), fmt.Sprintf("%s:%d", cmdToggle, ch.ID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑", fmt.Sprintf("%s:%d", cbDeleteConfirm, ch.ID)),
		))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

func statusLabel(monitored bool) string {
	if monitored {
		return statusMonitored
	}
	return statusPaused
}

func monitoredLabel(monitored bool) string {
	if monitored {
		return "мониторинг включён"
	}
	return "мониторинг выключен"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
