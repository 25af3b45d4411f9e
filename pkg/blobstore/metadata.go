package blobstore

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Error for metadata that cannot be encoded or decoded.
var ErrBadMetadata = errors.New("malformed metadata")

// EncodeMetadata renders md as name=value pairs joined by '&', in field
// name order. Names that are not fields of t are dropped.
func (t *Type) EncodeMetadata(md map[string]any) (string, error) {
	var sb strings.Builder
	for _, name := range t.names {
		v, ok := md[name]
		if !ok {
			continue
		}
		var enc string
		switch t.def.Fields[name] {
		case StringField:
			s, ok := v.(string)
			if !ok {
				return "", fmt.Errorf("%w: %s is %T, want string", ErrBadMetadata, name, v)
			}
			enc = escape(s)
		case IntField:
			n, ok := asInt(v)
			if !ok {
				return "", fmt.Errorf("%w: %s is %T, want int", ErrBadMetadata, name, v)
			}
			if n < math.MinInt32 || n > math.MaxInt32 {
				return "", fmt.Errorf("%w: %s = %d does not fit in 32 bits", ErrBadMetadata, name, n)
			}
			enc = strconv.FormatInt(n, 10)
		}
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(enc)
	}
	return sb.String(), nil
}

// DecodeMetadata parses the output of EncodeMetadata. Ints decode as int.
func (t *Type) DecodeMetadata(encoded string) (map[string]any, error) {
	md := map[string]any{}
	if encoded == "" || len(t.names) == 0 {
		return md, nil
	}
	for _, pair := range strings.Split(encoded, "&") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: pair %q", ErrBadMetadata, pair)
		}
		switch t.def.Fields[name] {
		case StringField:
			s, err := unescape(value)
			if err != nil {
				return nil, err
			}
			md[name] = s
		case IntField:
			n, err := strconv.ParseInt(value, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrBadMetadata, name, err)
			}
			md[name] = int(n)
		}
	}
	return md, nil
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

// escape keeps '0'..'~' as is except the backslash, writes the usual
// control escapes, percent-encodes ' '..'/' and writes every other UTF-16
// unit as \uXXXX.
func escape(s string) string {
	var sb strings.Builder
	for _, c := range utf16.Encode([]rune(s)) {
		switch {
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\f':
			sb.WriteString(`\f`)
		case c == '\t':
			sb.WriteString(`\t`)
		case c == '\\':
			sb.WriteString(`\\`)
		case c >= ' ' && c < '0':
			fmt.Fprintf(&sb, "%%%02x", c)
		case c >= '0' && c <= '~':
			sb.WriteByte(byte(c))
		default:
			fmt.Fprintf(&sb, `\u%04x`, c)
		}
	}
	return sb.String()
}

func unescape(s string) (string, error) {
	units := make([]uint16, 0, len(s))
	for i := 0; i < len(s); {
		c := s[i]
		i++
		switch {
		case c == '\\':
			if i >= len(s) {
				return "", fmt.Errorf("%w: trailing backslash in %q", ErrBadMetadata, s)
			}
			e := s[i]
			i++
			switch e {
			case 'r':
				units = append(units, '\r')
			case 'n':
				units = append(units, '\n')
			case 'f':
				units = append(units, '\f')
			case 't':
				units = append(units, '\t')
			case '\\':
				units = append(units, '\\')
			case 'u':
				if i+4 > len(s) {
					return "", fmt.Errorf("%w: short \\u escape in %q", ErrBadMetadata, s)
				}
				n, err := strconv.ParseUint(s[i:i+4], 16, 16)
				if err != nil {
					return "", fmt.Errorf("%w: %v", ErrBadMetadata, err)
				}
				units = append(units, uint16(n))
				i += 4
			default:
				return "", fmt.Errorf("%w: bad escape '\\%c' in %q", ErrBadMetadata, e, s)
			}
		case c == '%':
			if i+2 > len(s) {
				return "", fmt.Errorf("%w: short %% escape in %q", ErrBadMetadata, s)
			}
			n, err := strconv.ParseUint(s[i:i+2], 16, 8)
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrBadMetadata, err)
			}
			units = append(units, uint16(n))
			i += 2
		case c >= '0' && c <= '~':
			units = append(units, uint16(c))
		default:
			return "", fmt.Errorf("%w: bad character %q in %q", ErrBadMetadata, c, s)
		}
	}
	return string(utf16.Decode(units)), nil
}
