// Package privacy enforces the no-content rule at every persistence
// boundary: no banned key at any nesting depth, no raw token material or
// free-text blobs inside string values.
package privacy

import (
	"fmt"
	"strings"
)

// Mode selects scrub behavior for a banned key.
type Mode string

const (
	// ModeReject fails the whole value on the first banned key.
	ModeReject Mode = "reject"
	// ModeStrip drops banned keys and keeps siblings.
	ModeStrip Mode = "strip"
)

// BannedKeys is the union of every key that may carry raw conversation
// content or a direct user identifier. Matching is case-insensitive.
var BannedKeys = map[string]struct{}{
	"assistant_response": {},
	"completion":         {},
	"content":            {},
	"device_id":          {},
	"input":              {},
	"ip":                 {},
	"messages":           {},
	"output":             {},
	"payload_b64":        {},
	"prompt":             {},
	"prompt_text":        {},
	"raw_messages":       {},
	"raw_prompt":         {},
	"raw_response":       {},
	"raw_text":           {},
	"response":           {},
	"response_text":      {},
	"system_prompt":      {},
	"tool_calls":         {},
	"user_id":            {},
	"user_prompt":        {},
}

const freeTextMinLen = 500

// IsBannedKey reports whether key is on the banned list.
func IsBannedKey(key string) bool {
	_, ok := BannedKeys[strings.ToLower(key)]
	return ok
}

// Scrub walks value recursively and applies mode to every banned map key.
// In ModeStrip the returned value has banned keys removed; in ModeReject an
// error naming the offending path is returned and the value is discarded.
func Scrub(value any, mode Mode) (any, error) {
	if mode != ModeReject && mode != ModeStrip {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return scrub(value, mode, "")
}

func scrub(node any, mode Mode, path string) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		cleaned := make(map[string]any, len(v))
		for key, item := range v {
			keyPath := key
			if path != "" {
				keyPath = path + "." + key
			}
			if IsBannedKey(key) {
				if mode == ModeStrip {
					continue
				}
				return nil, fmt.Errorf("%w: %q at %s", ErrBannedKey, key, orRoot(path))
			}
			cleanedItem, err := scrub(item, mode, keyPath)
			if err != nil {
				return nil, err
			}
			cleaned[key] = cleanedItem
		}
		return cleaned, nil
	case []any:
		cleaned := make([]any, 0, len(v))
		for i, item := range v {
			cleanedItem, err := scrub(item, mode, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			cleaned = append(cleaned, cleanedItem)
		}
		return cleaned, nil
	default:
		return node, nil
	}
}

// ContainsBannedKey reports whether any banned key exists at any depth.
func ContainsBannedKey(value any) bool {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			if IsBannedKey(key) {
				return true
			}
			if ContainsBannedKey(item) {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if ContainsBannedKey(item) {
				return true
			}
		}
	}
	return false
}

// FindForbiddenContent scans string values for raw token markers
// ("token:" / "token=" for any banned key token) and for strings that look
// like free text. It returns the path of the first hit, or "".
func FindForbiddenContent(value any) string {
	return findContent(value, "")
}

func findContent(node any, path string) string {
	switch v := node.(type) {
	case map[string]any:
		for key, item := range v {
			keyPath := key
			if path != "" {
				keyPath = path + "." + key
			}
			if found := findContent(item, keyPath); found != "" {
				return found
			}
		}
	case []any:
		for i, item := range v {
			if found := findContent(item, fmt.Sprintf("%s[%d]", path, i)); found != "" {
				return found
			}
		}
	case string:
		if StringHasForbiddenContent(v) {
			return orRoot(path)
		}
	}
	return ""
}

// StringHasForbiddenContent applies the content heuristics to one string.
func StringHasForbiddenContent(s string) bool {
	lowered := strings.ToLower(s)
	for key := range BannedKeys {
		if strings.Contains(lowered, key+":") || strings.Contains(lowered, key+"=") {
			return true
		}
	}
	if strings.Contains(lowered, "token:") || strings.Contains(lowered, "token=") {
		return true
	}
	return len(s) >= freeTextMinLen && strings.ContainsAny(s, " \t\n")
}

func orRoot(path string) string {
	if path == "" {
		return "root"
	}
	return path
}
