package util

import (
	"strings"
	"time"
)

// Longest tokens first so YYYY is not eaten by YY.
var dateTokens = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"hh", "15",
	"mm", "04",
	"ss", "05",
)

// FormatDate renders t in local time using a YYYY/YY/MM/DD/hh/mm/ss template,
// e.g. "YYYY-MM-DD hh:mm". The zero time renders as "".
func FormatDate(t time.Time, tpl string) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(dateTokens.Replace(tpl))
}
