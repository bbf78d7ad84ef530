// Package utils provides common utility functions.
package utils

import (
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// MaskKey masks an API key for safe logging (shows first 8 and last 4 chars).
// Use this to avoid logging sensitive credentials in plain text.
func MaskKey(key string) string {
	if key == "" {
		return "(empty)"
	}
	if len(key) < 16 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// MaskKeyShort masks an API key showing only first 4 and last 4 chars.
// Use this for more compact display in CLI listings.
func MaskKeyShort(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// Preview truncates s to at most n runes, appending "..." when it was cut.
func Preview(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// PromptPreview returns the first n runes of the "prompt" field of a JSON
// params document, or "" when there is none.
func PromptPreview(params []byte, n int) string {
	if len(params) == 0 {
		return ""
	}
	prompt := gjson.GetBytes(params, "prompt")
	if !prompt.Exists() || prompt.Type != gjson.String {
		return ""
	}
	return Preview(prompt.String(), n)
}
