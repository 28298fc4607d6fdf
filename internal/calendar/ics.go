package calendar

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

const icsDateLayout = "20060102"

// GenerateICS renders events as an iCalendar feed of all-day entries.
// stamp is written as DTSTAMP on every event.
func GenerateICS(events []Event, calName string, stamp time.Time) string {
	var b strings.Builder

	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("PRODID:-//strava-duel//Ride Duel//EN\r\n")
	b.WriteString("CALSCALE:GREGORIAN\r\n")
	b.WriteString("METHOD:PUBLISH\r\n")
	b.WriteString(formatICSProperty("X-WR-CALNAME", calName))

	dtstamp := stamp.UTC().Format("20060102T150405Z")
	for _, e := range events {
		start := e.Start()
		if start.IsZero() {
			continue
		}

		b.WriteString("BEGIN:VEVENT\r\n")
		b.WriteString(formatICSProperty("UID", e.UID))
		fmt.Fprintf(&b, "DTSTAMP:%s\r\n", dtstamp)
		fmt.Fprintf(&b, "DTSTART;VALUE=DATE:%s\r\n", start.Format(icsDateLayout))
		fmt.Fprintf(&b, "DTEND;VALUE=DATE:%s\r\n", start.AddDate(0, 0, 1).Format(icsDateLayout))
		b.WriteString(formatICSProperty("SUMMARY", e.Summary))
		if e.Description != "" {
			b.WriteString(formatICSProperty("DESCRIPTION", e.Description))
		}
		b.WriteString("CATEGORIES:Cycling\r\n")
		b.WriteString("TRANSP:TRANSPARENT\r\n")
		b.WriteString("END:VEVENT\r\n")
	}

	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

// WriteICS writes the feed to w.
func WriteICS(w io.Writer, events []Event, calName string, stamp time.Time) error {
	_, err := io.WriteString(w, GenerateICS(events, calName, stamp))
	return err
}

// WriteICSFile writes the feed to path, creating parent directories.
func WriteICSFile(path string, events []Event, calName string, stamp time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateICS(events, calName, stamp)), 0o644); err != nil {
		return fmt.Errorf("write ics file: %w", err)
	}
	return nil
}

// escapeICSText escapes TEXT values.
func escapeICSText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// foldLine splits a content line into chunks of at most 75 octets,
// never inside a UTF-8 sequence. Continuations start with a space.
func foldLine(line string) string {
	const maxLen = 75

	var result strings.Builder
	limit := maxLen
	for len(line) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		result.WriteString(line[:cut])
		result.WriteString("\r\n ")
		line = line[cut:]
		limit = maxLen - 1
	}
	result.WriteString(line)
	return result.String()
}

// formatICSProperty escapes and folds a property line.
func formatICSProperty(property, value string) string {
	return foldLine(property+":"+escapeICSText(value)) + "\r\n"
}
