package utils

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

// StringShort обрезает строку до maxLen рун, добавляя "...".
func StringShort(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	return string(runes[:maxLen-3]) + "..."
}

// WordCount - грубая оценка длины промпта в словах.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// MaskURLPassword заменяет пароль в URL (postgres://, amqp://) на xxxxx.
func MaskURLPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
