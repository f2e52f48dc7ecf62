package utils

import "strings"

// Signature extraction from challenge completion payloads. The provider
// does not contractually document where the signature lands in the
// completion result, so the search is: exact field, then known nested
// locations, then a depth-bounded scan for anything signature-shaped.

// sigScanMaxDepth bounds the generic scan so a pathological payload cannot
// recurse unboundedly.
const sigScanMaxDepth = 4

// minSignatureHexLen is 0x plus 128 hex chars (r||s); provider signatures
// usually carry the recovery byte too (130).
const minSignatureHexLen = 130

// LooksLikeSignature reports whether s matches the signature shape: a 0x
// prefix and at least 64 bytes of hex.
func LooksLikeSignature(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) < minSignatureHexLen {
		return false
	}
	return hexPattern.MatchString(s[2:])
}

// ExtractSignature searches a challenge completion payload for a signature.
// Order: the exact field name, then common nested containers ("result",
// "data", "signResult"), then a generic bounded scan. Returns "" when
// nothing signature-shaped exists; the caller turns that into a
// SIGNATURE_NOT_FOUND error.
func ExtractSignature(payload map[string]any, field string) string {
	if payload == nil {
		return ""
	}

	if s, ok := payload[field].(string); ok && LooksLikeSignature(s) {
		return s
	}

	for _, container := range []string{"result", "data", "signResult"} {
		if nested, ok := payload[container].(map[string]any); ok {
			if s, ok := nested[field].(string); ok && LooksLikeSignature(s) {
				return s
			}
		}
	}

	return scanForSignature(payload, 0)
}

func scanForSignature(value any, depth int) string {
	if depth > sigScanMaxDepth {
		return ""
	}
	switch v := value.(type) {
	case string:
		if LooksLikeSignature(v) {
			return v
		}
	case map[string]any:
		for _, nested := range v {
			if s := scanForSignature(nested, depth+1); s != "" {
				return s
			}
		}
	case []any:
		for _, nested := range v {
			if s := scanForSignature(nested, depth+1); s != "" {
				return s
			}
		}
	}
	return ""
}
