package summarizer

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"tg_digest/internal/model"
)

const (
	chunkHeader = "Ты — аналитический помощник. Твоя задача — составить краткую сводку переписки.\n"
	mergeHeader = "Ты — главный аналитик. Перед тобой несколько кратких сводок одного канала.\n"

	degradedPrefix = "Ошибка при генерации сводки: "
)

func chunkText(msgs []model.Message) string {
	return strings.Join(lo.Map(msgs, func(m model.Message, _ int) string { return m.Text }), "\n")
}

// chunkPrompt asks for a summary of part i (zero-based) of total.
func chunkPrompt(i, total int, text string) string {
	var b strings.Builder
	b.WriteString(chunkHeader)
	fmt.Fprintf(&b, "ЧАСТЬ %d ИЗ %d:\n\n", i+1, total)
	b.WriteString("ПРАВИЛА:\n")
	b.WriteString("1. Только ключевые факты и решения.\n")
	b.WriteString("2. Нейтральный тон, без имен и приветствий.\n")
	b.WriteString("3. Не более 3 предложений для этой части.\n\n")
	b.WriteString("ТЕКСТ:\n")
	b.WriteString(text)
	return b.String()
}

func mergePrompt(summaries []string) string {
	var b strings.Builder
	b.WriteString(mergeHeader)
	b.WriteString("Объедини их в один связный финальный дайджест.\n")
	b.WriteString("ПРАВИЛА:\n")
	b.WriteString("- Строго не более 5 предложений.\n")
	b.WriteString("- Исключи повторы.\n")
	b.WriteString("ВВОДНЫЕ ДАННЫЕ:\n")
	b.WriteString(strings.Join(summaries, "\n"))
	return b.String()
}

func degraded(err error) string {
	return degradedPrefix + err.Error()
}
