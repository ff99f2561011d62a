package tgui

// TruncRunes keeps the first n runes of s and appends "…" when anything was
// cut. It never splits a multi-byte rune.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	seen := 0
	for i := range s {
		if seen == n {
			return s[:i] + "…"
		}
		seen++
	}
	return s
}
