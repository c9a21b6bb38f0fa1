package main

import (
	"fmt"
	"strings"

	"github.com/zulandar/consortium/internal/logging"
)

// formatTokenCount formats an integer with comma separators (e.g. 45230 -> "45,230").
func formatTokenCount(n int64) string {
	if n < 0 {
		return "-" + formatTokenCount(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var b strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		b.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// oneLine collapses whitespace and cuts s to n runes with a trailing "...".
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	cut := logging.Truncate(s, n)
	if cut != s {
		return cut + "..."
	}
	return cut
}
