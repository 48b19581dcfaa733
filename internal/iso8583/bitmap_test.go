package iso8583

import (
	"reflect"
	"testing"
)

func TestDecodeBitmapBitOrder(t *testing.T) {
	v, err := DecodeBitmap("7238000000000000")
	if err != nil {
		t.Fatalf("DecodeBitmap: %v", err)
	}
	want := map[int]bool{2: true, 3: true, 4: true, 7: true, 11: true, 12: true, 13: true}
	for field := 2; field <= 64; field++ {
		if got := v.Bit(field - 1); got != want[field] {
			t.Fatalf("field %d present = %v, want %v", field, got, want[field])
		}
	}
	if v.HasSecondary() {
		t.Fatalf("HasSecondary = true")
	}
}

func TestDecodeBitmapErrors(t *testing.T) {
	tests := []struct {
		name   string
		hex    string
		offset int
	}{
		{name: "short", hex: "72380000", offset: -1},
		{name: "long", hex: "72380000000000000", offset: -1},
		{name: "non hex", hex: "723800000000000G", offset: 15},
		{name: "space", hex: " 238000000000000", offset: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeBitmap(tc.hex)
			pe := wantParseError(t, err, InvalidBitmap)
			if pe.Offset != tc.offset {
				t.Fatalf("Offset = %d, want %d", pe.Offset, tc.offset)
			}
		})
	}
}

func TestPresenceVectorStringRoundTrip(t *testing.T) {
	for _, hex := range []string{"0000000000000000", "FFFFFFFFFFFFFFFF", "F23A001108C18000", "8000000000000001"} {
		v, err := DecodeBitmap(hex)
		if err != nil {
			t.Fatalf("DecodeBitmap(%s): %v", hex, err)
		}
		if got := v.String(); got != hex {
			t.Fatalf("String = %s, want %s", got, hex)
		}
	}
	lower, err := DecodeBitmap("f23a001108c18000")
	if err != nil {
		t.Fatalf("DecodeBitmap lower case: %v", err)
	}
	if lower.String() != "F23A001108C18000" {
		t.Fatalf("lower-case bitmap decoded to %s", lower)
	}
}

func TestCombine(t *testing.T) {
	primary, _ := DecodeBitmap("C000000000000000")
	secondary, _ := DecodeBitmap("2000000000000001")

	without := Combine(primary, nil)
	if got := without.Fields(); !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("Fields without secondary = %v", got)
	}
	for field := 65; field <= 128; field++ {
		if without.Has(field) {
			t.Fatalf("field %d set without secondary", field)
		}
	}

	with := Combine(primary, &secondary)
	if got := with.Fields(); !reflect.DeepEqual(got, []int{2, 67, 128}) {
		t.Fatalf("Fields with secondary = %v", got)
	}
	if !with.Has(1) {
		t.Fatalf("Has(1) = false, want secondary indicator")
	}
	if with.Has(0) || with.Has(129) {
		t.Fatalf("out of range field reported present")
	}
}
