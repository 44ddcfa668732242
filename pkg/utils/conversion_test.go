package utils

import "testing"

func TestFromBytesUint16(t *testing.T) {
	got := FromBytes[uint16]([]byte{0x0F, 0xA0})
	if got != 4000 {
		t.Errorf("FromBytes[uint16] = %d, want 4000", got)
	}
}

func TestFromBytesInt16Negative(t *testing.T) {
	got := FromBytes[int16]([]byte{0xFF, 0xCE})
	if got != -50 {
		t.Errorf("FromBytes[int16] = %d, want -50", got)
	}
}

func TestToBytesRoundTripsUint32(t *testing.T) {
	want := uint32(123456789)
	data := ToBytes(want)
	got := FromBytes[uint32](data)
	if got != want {
		t.Errorf("round trip = %d, want %d", got, want)
	}
}

func TestToBytesRoundTripsInt32Negative(t *testing.T) {
	want := int32(-98765)
	data := ToBytes(want)
	got := FromBytes[int32](data)
	if got != want {
		t.Errorf("round trip = %d, want %d", got, want)
	}
}

func TestFromBytesWithEndiannessCDAB(t *testing.T) {
	// CDAB: big-endian bytes, little-endian words
	data := []byte{0x00, 0x01, 0x00, 0x00}
	got := FromBytesCDAB[uint32](data)
	want := uint32(0x00000001)
	if got != want {
		t.Errorf("FromBytesCDAB = %#x, want %#x", got, want)
	}
}

func TestScaleAppliesFactor(t *testing.T) {
	got := Scale(int32(1500), 0.001)
	if got != 1.5 {
		t.Errorf("Scale = %v, want 1.5", got)
	}
}
