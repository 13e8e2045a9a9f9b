// Package render colors tailed log lines by severity for terminal output.
package render

import (
	"regexp"
	"strings"
)

// severityRegex matches common severity tokens in log text, including the
// bracketed forms the vendor's log stream emits ([Information], [Error]).
var severityRegex = regexp.MustCompile(`(?i)\b(TRACE|VERBOSE|DEBUG|INFO|INFORMATION|WARN|WARNING|ERROR|FATAL|CRITICAL)\b`)

// Detect extracts a normalized severity from a log line. Lines without a
// recognizable token count as INFO.
func Detect(line string) string {
	m := severityRegex.FindStringSubmatch(line)
	if len(m) > 1 {
		return Normalize(m[1])
	}
	return "INFO"
}

// Normalize converts severity spellings to consistent all-caps short forms.
func Normalize(severity string) string {
	switch strings.ToUpper(strings.TrimSpace(severity)) {
	case "TRACE", "TRC":
		return "TRACE"
	case "VERBOSE", "DEBUG", "DBG":
		return "DEBUG"
	case "INFO", "INFORMATION", "INF":
		return "INFO"
	case "WARN", "WARNING", "WRN":
		return "WARN"
	case "ERROR", "ERR":
		return "ERROR"
	case "FATAL", "CRITICAL", "CRIT", "FTL", "PANIC":
		return "FATAL"
	}
	return "INFO"
}
