// Package textenc coerces arbitrary byte strings into valid UTF-8.
package textenc

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"ragserve/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Normalize converts s to valid UTF-8, trying in order: UTF-8 BOM strip,
// UTF-16 (by BOM), plain UTF-8, GB18030, GBK. Fails with an encoding error
// when nothing applies. Idempotent for input that already is valid UTF-8.
func Normalize(s []byte) (string, error) {
	s = bytes.TrimPrefix(s, utf8BOM)
	if utf8.Valid(s) {
		return string(s), nil
	}

	if len(s) >= 2 {
		if s[0] == 0xFF && s[1] == 0xFE {
			return decodeUTF16(s[2:], false)
		}
		if s[0] == 0xFE && s[1] == 0xFF {
			return decodeUTF16(s[2:], true)
		}
	}

	for _, enc := range []transform.Transformer{
		simplifiedchinese.GB18030.NewDecoder(),
		simplifiedchinese.GBK.NewDecoder(),
	} {
		out, _, err := transform.Bytes(enc, s)
		// The decoders substitute U+FFFD for undecodable bytes instead of
		// failing, so a replacement char in the output means the conversion
		// did not really succeed.
		if err == nil && utf8.Valid(out) && !bytes.ContainsRune(out, utf8.RuneError) {
			return string(out), nil
		}
	}

	return "", domain.Errf(domain.KindEncoding,
		"text is not valid UTF-8 (try saving as UTF-8/UTF-8 BOM, or GB18030/GBK)")
}

// decodeUTF16 transcodes UTF-16 code units to UTF-8, rejecting odd byte
// lengths and unpaired surrogates.
func decodeUTF16(b []byte, bigEndian bool) (string, error) {
	if len(b)%2 != 0 {
		return "", domain.Errf(domain.KindEncoding, "invalid UTF-16 byte length")
	}
	readU16 := func(i int) uint32 {
		if bigEndian {
			return uint32(b[i])<<8 | uint32(b[i+1])
		}
		return uint32(b[i]) | uint32(b[i+1])<<8
	}

	var sb strings.Builder
	sb.Grow(len(b))
	for i := 0; i < len(b); i += 2 {
		cp := readU16(i)
		switch {
		case cp >= 0xD800 && cp <= 0xDBFF:
			if i+3 >= len(b) {
				return "", domain.Errf(domain.KindEncoding, "unpaired UTF-16 high surrogate")
			}
			lo := readU16(i + 2)
			if lo < 0xDC00 || lo > 0xDFFF {
				return "", domain.Errf(domain.KindEncoding, "unpaired UTF-16 high surrogate")
			}
			cp = 0x10000 + ((cp-0xD800)<<10 | (lo - 0xDC00))
			i += 2
		case cp >= 0xDC00 && cp <= 0xDFFF:
			return "", domain.Errf(domain.KindEncoding, "unpaired UTF-16 low surrogate")
		}
		sb.WriteRune(rune(cp))
	}
	out := sb.String()
	if !utf8.ValidString(out) {
		return "", domain.Errf(domain.KindEncoding, "failed to decode UTF-16")
	}
	return out, nil
}

// SanitizeStrict rewrites every invalid byte to '?'. Applied to any string
// that leaves the process as JSON, HTML or a prompt.
func SanitizeStrict(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			sb.WriteByte('?')
			i++
			continue
		}
		sb.WriteString(s[i : i+size])
		i += size
	}
	return sb.String()
}

// TruncateRunes cuts s to at most max bytes on a codepoint boundary.
func TruncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Shorten truncates s to max bytes, appending an ellipsis when cut. The cut
// lands on a codepoint boundary.
func Shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	if cut > 3 {
		cut -= 3
	}
	return TruncateRunes(s, cut) + "..."
}
