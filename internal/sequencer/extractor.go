package sequencer

import (
	"regexp"
	"strings"
)

// Verification code heuristics, tried in order. Vendor messages arrive in
// many languages, so the keyword list covers the common ones and the last
// pattern falls back to any standalone digit run.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)G-(\d{6})`),
	regexp.MustCompile(`(?i)(?:code|pin|otp|пароль|код)\D{0,12}(\d{4,8})`),
	regexp.MustCompile(`\b(\d{3}[- ]\d{3})\b`),
	regexp.MustCompile(`\b(\d{4,8})\b`),
}

var codeSeparators = strings.NewReplacer("-", "", " ", "")

// ExtractCode pulls the verification code out of an SMS body. It returns the
// empty string when nothing code-like is found.
func ExtractCode(content string) string {
	for _, re := range codePatterns {
		if m := re.FindStringSubmatch(content); m != nil {
			return codeSeparators.Replace(m[1])
		}
	}
	return ""
}
