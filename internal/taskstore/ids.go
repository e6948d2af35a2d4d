package taskstore

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	TaskIDPrefix  = "TSK"
	BoardIDPrefix = "BRD"
)

var (
	TaskIDPattern  = regexp.MustCompile(`^TSK\d{8}\d{5}$`)
	BoardIDPattern = regexp.MustCompile(`^BRD\d{8}\d{5}$`)
)

func normalizeUpper(raw string) string { return strings.ToUpper(strings.TrimSpace(raw)) }
func normalizeLower(raw string) string { return strings.ToLower(strings.TrimSpace(raw)) }

// daySerialID renders a human-readable id: prefix, DDMMYYYY, 5-digit serial.
func daySerialID(prefix string, day time.Time, serial int64) string {
	return fmt.Sprintf("%s%s%05d", prefix, day.Format("02012006"), serial)
}

// dayPrefix is the regex anchor matching every id issued on the given day.
func dayPrefix(prefix string, day time.Time) string {
	return "^" + prefix + day.Format("02012006")
}
