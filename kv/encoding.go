package kv

import "strings"

const (
	terminator byte = 0x00
	escape     byte = 0x01
)

// EncodeKey returns the order-preserving encoding of k.
//
// Within a segment 0x00 becomes 0x01 0x01 and 0x01 becomes 0x01 0x02; every
// segment is followed by 0x00. Because the terminator sorts below every escaped
// content byte, comparing encodings byte-wise compares keys segment-wise.
func EncodeKey(k Key) string {
	var b strings.Builder
	for _, seg := range k {
		for i := 0; i < len(seg); i++ {
			switch c := seg[i]; c {
			case terminator:
				b.WriteByte(escape)
				b.WriteByte(0x01)
			case escape:
				b.WriteByte(escape)
				b.WriteByte(0x02)
			default:
				b.WriteByte(c)
			}
		}
		b.WriteByte(terminator)
	}
	return b.String()
}

// DecodeKey reverses EncodeKey.
func DecodeKey(s string) (Key, error) {
	k := Key{}
	var seg []byte
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case terminator:
			k = append(k, string(seg))
			seg = seg[:0]
		case escape:
			if i+1 >= len(s) {
				return nil, ErrMalformedKey
			}
			i++
			switch s[i] {
			case 0x01:
				seg = append(seg, terminator)
			case 0x02:
				seg = append(seg, escape)
			default:
				return nil, ErrMalformedKey
			}
		default:
			seg = append(seg, c)
		}
	}
	if len(seg) > 0 {
		return nil, ErrMalformedKey
	}
	return k, nil
}
