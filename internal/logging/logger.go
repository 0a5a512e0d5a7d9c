package logging

import (
	"log"
	"os"
	"strings"
)

// debugFor holds the subsystems enabled via DEBUG. DEBUG=true or DEBUG=all
// enables everything; DEBUG=store,recall enables just those.
var debugFor = parseDebug(os.Getenv("DEBUG"))

func parseDebug(v string) map[string]bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	m := make(map[string]bool)
	if v == "true" || v == "all" || v == "1" {
		m["*"] = true
		return m
	}
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			m[s] = true
		}
	}
	return m
}

// Info logs an informational message (always shown)
func Info(subsystem, format string, args ...any) {
	log.Printf("[%s] "+format, append([]any{subsystem}, args...)...)
}

// Debug logs a debug message when the subsystem is enabled via DEBUG
func Debug(subsystem, format string, args ...any) {
	if debugFor["*"] || debugFor[subsystem] {
		log.Printf("[%s] "+format, append([]any{subsystem}, args...)...)
	}
}

// Truncate truncates a string to maxLen and adds ellipsis
func Truncate(s string, maxLen int) string {
	// Replace newlines with spaces for one-line logs
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
