package bot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"tg_digest/internal/storage"
)

var usernameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{3,31}$`)

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("channel ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid channel ID %q", s)
	}
	return id, nil
}

// ParseAddArgs extracts a channel handle and an optional title.
// Format: <username|@username|t.me/username> [title...]
func ParseAddArgs(args string) (string, string, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return "", "", fmt.Errorf("использование: /add <username> [название]")
	}

	raw := parts[0]
	for _, prefix := range []string{"https://", "http://", "t.me/", "telegram.me/"} {
		raw = strings.TrimPrefix(raw, prefix)
	}
	raw = strings.TrimSuffix(raw, "/")
	username := storage.NormalizeUsername(raw)
	if !usernameRe.MatchString(username) {
		return "", "", fmt.Errorf("некорректное имя канала %q", parts[0])
	}

	title := strings.TrimSpace(strings.Join(parts[1:], " "))
	if title == "" {
		title = "@" + username
	}
	return username, title, nil
}
