// Package naming turns manifest labels into collision-free payload file names
// and places payloads into the output directory.
package naming

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxBaseLength caps the sanitised base name, before any numeric suffix.
const MaxBaseLength = 128

// fallbackBase is used when a label sanitises to nothing.
const fallbackBase = "payload"

// Sanitize converts a label into a filesystem-safe base name.
//
// Leading and trailing whitespace is dropped and every inner run of whitespace
// becomes a single underscore. Any other character outside [A-Za-z0-9-_],
// including path separators and non-ASCII letters, becomes an underscore.
//
//	"Archer C50 V3"   -> "Archer_C50_V3"
//	"RT-AX88U/Pro"    -> "RT-AX88U_Pro"
//	"Größe  1.0"      -> "Gr__e_1_0"
func Sanitize(label string) string {
	var b strings.Builder
	inSpace := false
	for _, r := range strings.TrimSpace(label) {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			continue
		}
		inSpace = false
		if isSafe(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	base := b.String()
	if len(base) > MaxBaseLength {
		base = base[:MaxBaseLength]
	}
	if base == "" {
		return fallbackBase
	}
	return base
}

func isSafe(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '-' || r == '_'
}

// FileName builds the candidate name for suffix n: n <= 1 yields "base.ext",
// otherwise "base_n.ext".
func FileName(base, ext string, n int) string {
	if n <= 1 {
		return base + ext
	}
	return fmt.Sprintf("%s_%d%s", base, n, ext)
}
