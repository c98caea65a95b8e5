package modelstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// slashToken replaces '/' in model ids; '_' itself is doubled so the mapping
// stays reversible.
const slashToken = "_--_"

// EscapeModelID maps a registry id (e.g. "laion/CLIP-ViT-H-14") to a single
// path-safe directory name. The mapping is injective and reversed by
// UnescapeModelID.
func EscapeModelID(id string) (string, error) {
	if id == "" {
		return "", errors.New("empty model id")
	}
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c == '_':
			b.WriteString("__")
		case c == '/':
			b.WriteString(slashToken)
		case c == '.' && i == 0:
			b.WriteString("%2E")
		case unsafeByte(c):
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// UnescapeModelID reverses EscapeModelID.
func UnescapeModelID(dir string) (string, error) {
	if dir == "" {
		return "", errors.New("empty directory name")
	}
	var b strings.Builder
	for i := 0; i < len(dir); {
		c := dir[i]
		switch {
		case c == '_':
			if strings.HasPrefix(dir[i:], "__") {
				b.WriteByte('_')
				i += 2
				continue
			}
			if strings.HasPrefix(dir[i:], slashToken) {
				b.WriteByte('/')
				i += len(slashToken)
				continue
			}
			return "", fmt.Errorf("invalid escape at offset %d in %q", i, dir)
		case c == '%':
			if i+3 > len(dir) {
				return "", fmt.Errorf("truncated escape in %q", dir)
			}
			v, err := strconv.ParseUint(dir[i+1:i+3], 16, 8)
			if err != nil {
				return "", fmt.Errorf("invalid escape in %q: %w", dir, err)
			}
			b.WriteByte(byte(v))
			i += 3
		default:
			if unsafeByte(c) || c == '/' {
				return "", fmt.Errorf("unescaped byte %q in %q", c, dir)
			}
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

func unsafeByte(c byte) bool {
	if c < 0x20 || c == 0x7f {
		return true
	}
	switch c {
	case '%', '\\', ':', '*', '?', '"', '<', '>', '|':
		return true
	}
	return false
}
