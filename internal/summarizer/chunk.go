package summarizer

import (
	"unicode/utf8"

	"tg_digest/internal/model"
)

// Chunk packs messages greedily into consecutive groups whose text length,
// counted in runes, stays within budget. A message longer than budget forms
// a group of its own. Order is preserved.
func Chunk(msgs []model.Message, budget int) [][]model.Message {
	if budget <= 0 {
		budget = DefaultBudget
	}

	var (
		chunks [][]model.Message
		cur    []model.Message
		size   int
	)
	for _, m := range msgs {
		n := utf8.RuneCountInString(m.Text)
		if len(cur) > 0 && size+n > budget {
			chunks = append(chunks, cur)
			cur, size = nil, 0
		}
		cur = append(cur, m)
		size += n
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

func textLen(msgs []model.Message) int {
	n := 0
	for _, m := range msgs {
		n += utf8.RuneCountInString(m.Text)
	}
	return n
}
