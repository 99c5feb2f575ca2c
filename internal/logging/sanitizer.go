package logging

import (
	"regexp"
	"sync"
)

// Sanitizer redacts credentials from log messages and attribute values.
type Sanitizer struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with the default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns,
		redacted: "[REDACTED]",
	}
}

var defaultPatterns = compilePatterns(
	// GitHub tokens: classic PAT, OAuth, app user/server, refresh
	`gh[pousr]_[A-Za-z0-9]{36,}`,
	// GitHub fine-grained PAT
	`github_pat_[A-Za-z0-9_]{22,}`,
	// runner secrets passed on the command line: -s NAME=value, --secret NAME=value
	`(?i)(?:^|\s)(?:-s|--secret)[ =][A-Za-z_][A-Za-z0-9_]*=\S+`,
	// GITHUB_TOKEN / ACTIONS_RUNTIME_TOKEN style environment assignments
	`(?i)[A-Z0-9_]*(?:TOKEN|SECRET|PASSWORD)=[^\s"']{8,}`,
	// registry auth blobs from ~/.docker/config.json
	`(?i)"auth"\s*:\s*"[A-Za-z0-9+/=]{12,}"`,
	// AWS access key
	`AKIA[0-9A-Z]{16}`,
	`(?i)aws[_-]?secret[_-]?access[_-]?key["'\s:=]+[A-Za-z0-9/+=]{40}`,
	// Slack tokens used by notification steps
	`xox[baprs]-[0-9a-zA-Z-]{10,}`,
	`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
	`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	`(?i)password["'\s:=]+[^\s"']{8,}`,
	`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`,
)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	if input == "" {
		return input
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// SanitizeArgs redacts each command-line argument, plus the value that
// follows a bare -s/--secret flag.
func (s *Sanitizer) SanitizeArgs(args []string) []string {
	out := make([]string, len(args))
	secretNext := false
	for i, a := range args {
		if secretNext {
			out[i] = s.redactedPlaceholder()
			secretNext = false
			continue
		}
		if a == "-s" || a == "--secret" {
			secretNext = true
			out[i] = a
			continue
		}
		out[i] = s.Sanitize(a)
	}
	return out
}

// SanitizeMap redacts string values in a map, recursing into nested maps.
func (s *Sanitizer) SanitizeMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			result[k] = s.Sanitize(val)
		case map[string]any:
			result[k] = s.SanitizeMap(val)
		default:
			result[k] = v
		}
	}
	return result
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// copy-on-write so the shared default slice is never mutated
	patterns := make([]*regexp.Regexp, len(s.patterns), len(s.patterns)+1)
	copy(patterns, s.patterns)
	s.patterns = append(patterns, re)
	return nil
}

// SetRedactedPlaceholder sets the placeholder text for redacted content.
func (s *Sanitizer) SetRedactedPlaceholder(placeholder string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redacted = placeholder
}

func (s *Sanitizer) redactedPlaceholder() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.redacted
}
