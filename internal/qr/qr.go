// Package qr builds the scannable payload for transaction tokens. The
// payload is a plain URL; the token is the only state the code carries.
package qr

import "strings"

// ActionPath is the front-end route that redeems a scanned token.
const ActionPath = "/qr-action/"

// BuildActionURL composes the URL encoded into a transaction code.
func BuildActionURL(origin, token string) string {
	return strings.TrimRight(origin, "/") + ActionPath + token
}

// TokenFromActionURL extracts the token from a scanned payload, or ""
// when the payload is not an action URL.
func TokenFromActionURL(raw string) string {
	idx := strings.Index(raw, ActionPath)
	if idx < 0 {
		return ""
	}
	token := raw[idx+len(ActionPath):]
	if token == "" || strings.ContainsAny(token, "/?#") {
		return ""
	}
	return token
}
