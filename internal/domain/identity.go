package domain

import "strings"

// SyntheticNumPrefix marks the alias derived from a copy's shelf number.
// It survives backend identifier churn: ids get reissued, copy numbers don't.
const SyntheticNumPrefix = "num:"

// CopyAliases returns every identifier string that can refer to the given
// copy. The alias set is always computed, never stored on the copy: the
// backend's endpoints disagree about which identifier they return, so all
// non-empty fields are treated as equivalent for membership tests.
//
// Source fields, in order: primary id, alternate copy id, QR code, plus the
// synthetic "num:<copyNumber>" alias.
func CopyAliases(c BookCopy) IDSet {
	aliases := NewIDSet()
	for _, a := range []string{c.ID, c.CopyID, c.QRCode} {
		if a = strings.TrimSpace(a); a != "" {
			aliases.Add(a)
		}
	}
	if num := strings.TrimSpace(c.CopyNumber); num != "" {
		aliases.Add(SyntheticNumPrefix + num)
	}
	return aliases
}

// FirstNonEmpty returns the first non-blank candidate, used wherever the
// backend may deliver the same identifier under any of several field names.
func FirstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}
