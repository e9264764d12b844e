// Package transcript turns raw whisper-cli output into a single clean utterance.
//
// The recognizer prints one segment per line, usually prefixed with a bracketed
// timestamp range, and interleaves non-speech markers ("[Music]", "[INAUDIBLE]")
// and the occasional hallucinated "you" on near-silent audio. Sanitize keeps only
// the fragments that look like real speech, in their original order.
package transcript

import (
	"strings"
	"unicode"
)

// nonSpeechPhrases are whole-fragment markers emitted for segments without speech.
var nonSpeechPhrases = map[string]bool{
	"blank_audio":                    true,
	"blank audio":                    true,
	"music":                          true,
	"inaudible":                      true,
	"speaking in a foreign language": true,
	"foreign language":               true,
}

// Sanitize returns the cleaned transcript for raw recognizer output, or ""
// when nothing in it is speech. It never fails.
func Sanitize(raw string) string {
	lines := splitLines(raw)

	var fragments []string
	for _, line := range lines {
		idx := strings.LastIndex(line, "]")
		if idx < 0 {
			continue
		}
		if cleaned, ok := CleanFragment(line[idx+1:]); ok {
			fragments = append(fragments, cleaned)
		}
	}

	if len(fragments) == 0 {
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			// whisper.cpp debug and system lines carry identifiers with underscores.
			if strings.Contains(trimmed, "_") {
				continue
			}
			if cleaned, ok := CleanFragment(trimmed); ok {
				fragments = append(fragments, cleaned)
			}
		}
	}

	return strings.Join(fragments, " ")
}

// CleanFragment strips continuation markers from one candidate fragment and
// collapses its whitespace. It reports false when the fragment carries no speech.
func CleanFragment(text string) (string, bool) {
	cleaned := strings.TrimSpace(text)
	for {
		if strings.HasPrefix(cleaned, ">>") {
			cleaned = strings.TrimLeftFunc(cleaned[2:], unicode.IsSpace)
			continue
		}
		// Whole lines reach here from the fallback pass with their range intact.
		if idx := strings.IndexByte(cleaned, ']'); idx > 0 && IsTimestampOnly(cleaned[:idx+1]) {
			cleaned = strings.TrimLeftFunc(cleaned[idx+1:], unicode.IsSpace)
			continue
		}
		break
	}

	if cleaned == "" || IsTimestampOnly(cleaned) || IsNonSpeechMarker(cleaned) {
		return "", false
	}

	collapsed := strings.Join(strings.Fields(cleaned), " ")
	if collapsed == "" || isLowInformation(collapsed) {
		return "", false
	}
	return collapsed, true
}

// IsTimestampOnly reports whether text is nothing but a bracketed range such
// as "[00:00:00.000 --> 00:00:08.000]".
func IsTimestampOnly(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2 || trimmed[0] != '[' || trimmed[len(trimmed)-1] != ']' {
		return false
	}

	inner := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	if !strings.Contains(inner, "-->") {
		return false
	}

	for _, c := range inner {
		switch {
		case c >= '0' && c <= '9':
		case c == ':', c == '.', c == '-', c == '>', c == ' ':
		default:
			return false
		}
	}
	return true
}

// IsNonSpeechMarker reports whether text is a recognizer marker rather than
// speech. Text without any word tokens counts as a marker.
func IsNonSpeechMarker(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || IsTimestampOnly(trimmed) {
		return true
	}

	words := tokens(trimmed)
	if len(words) == 0 {
		return true
	}

	if nonSpeechPhrases[strings.Join(words, " ")] {
		return true
	}

	for _, w := range words {
		if w != "inaudible" && w != "music" {
			return false
		}
	}
	return true
}

// isLowInformation filters the "you" / "you you" hallucination whisper emits
// for near-silent audio.
func isLowInformation(text string) bool {
	words := tokens(text)
	if len(words) == 0 {
		return true
	}
	if len(words) > 3 {
		return false
	}
	for _, w := range words {
		if w != "you" {
			return false
		}
	}
	return true
}

// tokens lowercases the whitespace-separated words of text with surrounding
// punctuation and quotes removed. Empty tokens are dropped.
func tokens(text string) []string {
	fields := strings.Fields(text)
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.TrimFunc(f, isTokenPunct)
		w = strings.TrimLeft(w, ">")
		w = strings.TrimLeft(w, "~")
		w = strings.Trim(w, `"`)
		w = strings.Trim(w, `'`)
		w = strings.ToLower(w)
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

func isTokenPunct(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '[', ']', '(', ')', '{', '}', '.', ',', ';', ':', '!', '?':
		return true
	}
	return false
}

// splitLines splits on '\n' and drops a trailing '\r' from each line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
