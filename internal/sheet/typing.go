package sheet

import (
	"strings"
	"time"
)

// DateLayout is the day-first layout the sheet stores dates in.
const DateLayout = "02-01-2006"

var inputLayouts = []string{
	DateLayout,
	"02/01/2006",
	"2-1-2006",
	"2/1/2006",
	time.DateOnly,
	"2006-01-02 15:04:05",
}

// DateColumns are normalized to DateLayout on import.
var DateColumns = []string{"data_ent", "data_alta", "data_nasc", "data_queim"}

// FormatID pads numeric ids of up to three digits to four.
func FormatID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimSuffix(id, ".0")
	if id == "" || len(id) > 3 || !allDigits(id) {
		return id
	}
	return strings.Repeat("0", 4-len(id)) + id
}

// FormatDate rewrites a date in any accepted input layout as dd-mm-yyyy.
// Unparseable input is returned unchanged so validation can report it.
func FormatDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout)
		}
	}
	return s
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
