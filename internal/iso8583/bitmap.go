package iso8583

import "strings"

const (
	// BitmapHexLen is the text width of one bitmap half.
	BitmapHexLen = 16
	bitmapBits   = 64
)

// PresenceVector is one bitmap half. Index i stands for field i+1 of the
// half; index 0 of the primary half announces the secondary bitmap.
type PresenceVector [bitmapBits]bool

// FieldSet is the combined primary and secondary presence vector. Index i
// stands for field i+1.
type FieldSet [2 * bitmapBits]bool

// DecodeBitmap turns 16 hex characters into a presence vector, most
// significant bit first.
func DecodeBitmap(hex string) (PresenceVector, error) {
	var v PresenceVector
	if len(hex) != BitmapHexLen {
		return v, newError(InvalidBitmap, -1, "bitmap wrong length: want %d characters, got %d", BitmapHexLen, len(hex))
	}
	for i := 0; i < BitmapHexLen; i++ {
		nibble, ok := hexValue(hex[i])
		if !ok {
			return PresenceVector{}, newError(InvalidBitmap, i, "invalid bitmap character %q at position %d", hex[i], i)
		}
		for bit := 0; bit < 4; bit++ {
			v[i*4+bit] = nibble&(0x8>>bit) != 0
		}
	}
	return v, nil
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

// Bit reports the bit at index i (0-63).
func (v PresenceVector) Bit(i int) bool {
	if i < 0 || i >= bitmapBits {
		return false
	}
	return v[i]
}

// HasSecondary reports whether bit 0 announces a secondary bitmap.
func (v PresenceVector) HasSecondary() bool {
	return v[0]
}

// String renders the vector as upper-case hex, the inverse of DecodeBitmap.
func (v PresenceVector) String() string {
	const digits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(BitmapHexLen)
	for i := 0; i < BitmapHexLen; i++ {
		var nibble byte
		for bit := 0; bit < 4; bit++ {
			if v[i*4+bit] {
				nibble |= 0x8 >> bit
			}
		}
		b.WriteByte(digits[nibble])
	}
	return b.String()
}

// Combine merges the primary and optional secondary vectors. Positions
// 64-127 stay false when secondary is nil.
func Combine(primary PresenceVector, secondary *PresenceVector) FieldSet {
	var fs FieldSet
	copy(fs[:bitmapBits], primary[:])
	if secondary != nil {
		copy(fs[bitmapBits:], secondary[:])
	}
	return fs
}

// Has reports whether field (1-128) is flagged present.
func (fs FieldSet) Has(field int) bool {
	if field < 1 || field > len(fs) {
		return false
	}
	return fs[field-1]
}

// Fields lists the flagged data fields (2-128) in ascending order.
func (fs FieldSet) Fields() []int {
	out := make([]int, 0, 16)
	for field := MinField; field <= MaxField; field++ {
		if fs[field-1] {
			out = append(out, field)
		}
	}
	return out
}
