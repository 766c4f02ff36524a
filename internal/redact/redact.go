// Package redact masks detected entities for display and export, and scrubs
// secrets from log lines.
package redact

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/straja-ai/piiscope/internal/logging"
)

// scrubRule rewrites one class of secret. Rules run in order; later rules
// see the output of earlier ones, so already masked values are skipped.
type scrubRule struct {
	re   *regexp.Regexp
	repl func(m []string) string
}

func keep(prefix int) func([]string) string {
	return func(m []string) string {
		if strings.Contains(m[0], Sentinel) {
			return m[0]
		}
		return m[prefix] + Sentinel
	}
}

var scrubRules = []scrubRule{
	{regexp.MustCompile(`(?i)(authorization\s*[:=]\s*bearer\s+)([A-Za-z0-9._\-+/=]+)`), keep(1)},
	{regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-+/=]+)`), keep(1)},
	{regexp.MustCompile(`(?i)(api[_-]?keys?\s*[:=]\s*\[)([^\]]+)(\])`), func(m []string) string {
		return m[1] + "REDACTED" + m[3]
	}},
	{regexp.MustCompile(`(?i)(x-api-key|x-meili-key)(\s*[:=]\s*)([A-Za-z0-9._\-+/=]+)`), func(m []string) string {
		return m[1] + m[2] + Sentinel
	}},
	{regexp.MustCompile(`(?i)(api[_-]?keys?\s*[:=]\s*)([A-Za-z0-9._\-+/=]+)`), keep(1)},
	{regexp.MustCompile(`\bpsk_[A-Za-z0-9]{8,}`), func([]string) string { return "psk_" + Sentinel }},
	{regexp.MustCompile(`(?i)(password\s*[:=]\s*)(\S+)`), keep(1)},
	{regexp.MustCompile(`(?i)(meili_(?:master_)?key\s*[:=]\s*)([A-Za-z0-9._\-+/=]+)`), keep(1)},
	{regexp.MustCompile(`(?i)\b(key|token)\s*[:=]\s*([A-Za-z0-9._\-+/=]{6,})`), func(m []string) string {
		if strings.Contains(m[0], Sentinel) {
			return m[0]
		}
		return m[1] + "=" + Sentinel
	}},
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), func([]string) string { return "[REDACTED_EMAIL]" }},
	{regexp.MustCompile(`https?://[^\s"'<>]+`), func(m []string) string { return redactURL(m[0]) }},
}

// String masks credentials, archive passwords, index keys, e-mail addresses
// and URL paths in a free-form line.
func String(s string) string {
	if s == "" {
		return s
	}
	out := s
	for _, r := range scrubRules {
		out = r.re.ReplaceAllStringFunc(out, func(match string) string {
			return r.repl(r.re.FindStringSubmatch(match))
		})
	}
	for strings.Contains(out, Sentinel+Sentinel) {
		out = strings.ReplaceAll(out, Sentinel+Sentinel, Sentinel)
	}
	return out
}

// Any formats the value with %+v and redacts secrets.
func Any(v any) string {
	return String(fmt.Sprintf("%+v", v))
}

// Sprintf formats like fmt.Sprintf and redacts the result.
func Sprintf(format string, args ...any) string {
	return String(fmt.Sprintf(format, args...))
}

// Logf prints a redacted info line on the process logger.
func Logf(format string, args ...any) {
	logging.Default().Info(Sprintf(format, args...))
}

// Debugf prints a redacted debug line.
func Debugf(format string, args ...any) {
	logging.Default().Debug(Sprintf(format, args...))
}

// Warnf prints a redacted warning line.
func Warnf(format string, args ...any) {
	logging.Default().Warn(Sprintf(format, args...))
}

// Errorf prints a redacted error line.
func Errorf(format string, args ...any) {
	logging.Default().Error(Sprintf(format, args...))
}

// Fatalf prints a redacted error line and exits.
func Fatalf(format string, args ...any) {
	logging.Default().Error(Sprintf(format, args...))
	os.Exit(1)
}

func redactURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[REDACTED_URL]"
	}

	host := u.Host
	if strings.HasSuffix(trimmed, "/") {
		return fmt.Sprintf("%s://%s/[REDACTED_PATH]", u.Scheme, host)
	}

	base := path.Base(strings.TrimSuffix(u.Path, "/"))
	if base == "." || base == "/" || base == "" {
		return fmt.Sprintf("%s://%s/[REDACTED_PATH]", u.Scheme, host)
	}
	return fmt.Sprintf("%s://%s/%s", u.Scheme, host, base)
}
