package upload

import (
	"path"
	"strings"
	"unicode"
)

// maxNameRunes caps stored file names; the extension is kept when trimming.
const maxNameRunes = 128

// CleanName reduces a client-supplied file name to something safe to log,
// persist and echo back. Directory parts (including Windows fakepath
// prefixes) are dropped, control characters removed and anything outside a
// small allowlist replaced with '_'.
func CleanName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}

	var b strings.Builder
	for _, r := range name {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	cleaned := strings.TrimSpace(b.String())

	runes := []rune(cleaned)
	if len(runes) <= maxNameRunes {
		return cleaned
	}
	ext := []rune(path.Ext(cleaned))
	if len(ext) >= maxNameRunes {
		return string(runes[:maxNameRunes])
	}
	return string(runes[:maxNameRunes-len(ext)]) + string(ext)
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}
