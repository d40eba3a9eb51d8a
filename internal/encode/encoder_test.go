package encode

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
)

const (
	nalTypeSPS = 7
	nalTypePPS = 8
)

// nalTypes returns the type of every Annex B NAL unit in b.
func nalTypes(b []byte) []int {
	var types []int
	for i := 0; i+3 < len(b); i++ {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			types = append(types, int(b[i+3]&0x1F))
			i += 3
		}
	}
	return types
}

func hasNAL(types []int, want int) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func testFrame(width, height int, shade byte) *I420Image {
	img := NewI420(width, height)
	for i := range img.Y {
		img.Y[i] = shade
	}
	for i := range img.Cb {
		img.Cb[i] = 128
		img.Cr[i] = 128
	}
	return img
}

func encodeTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEncoderFirstFrameCarriesHeaders(t *testing.T) {
	enc, err := NewEncoder(64, 48, 30, encodeTestLogger())
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	defer enc.Close()

	first, err := enc.Encode(testFrame(64, 48, 40))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	types := nalTypes(first)
	if !hasNAL(types, nalTypeSPS) {
		t.Errorf("first access unit lacks SPS, NAL types: %v", types)
	}
	if !hasNAL(types, nalTypePPS) {
		t.Errorf("first access unit lacks PPS, NAL types: %v", types)
	}

	second, err := enc.Encode(testFrame(64, 48, 80))
	if err != nil {
		t.Fatalf("second Encode failed: %v", err)
	}
	if len(second) == 0 {
		t.Fatal("second access unit is empty")
	}
	if types := nalTypes(second); hasNAL(types, nalTypeSPS) {
		t.Errorf("headers repeated on second access unit, NAL types: %v", types)
	}
}

func TestEncoderOneAccessUnitPerFrame(t *testing.T) {
	enc, err := NewEncoder(64, 48, 30, encodeTestLogger())
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	defer enc.Close()

	// Zero-latency tuning means no frame is ever held back.
	for i := 0; i < 10; i++ {
		out, err := enc.Encode(testFrame(64, 48, byte(i*20)))
		if err != nil {
			t.Fatalf("Encode %d failed: %v", i, err)
		}
		if len(out) == 0 {
			t.Fatalf("Encode %d produced no output", i)
		}
		if !bytes.HasPrefix(out, []byte{0, 0, 0, 1}) && !bytes.HasPrefix(out, []byte{0, 0, 1}) {
			t.Fatalf("Encode %d output does not start with an Annex B start code", i)
		}
	}
}

func TestEncoderCloseIdempotent(t *testing.T) {
	enc, err := NewEncoder(64, 48, 30, encodeTestLogger())
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, err := enc.Encode(testFrame(64, 48, 0)); !IsCode(err, ErrCodeEncodeError) {
		t.Fatalf("Encode after Close error = %v, want %s", err, ErrCodeEncodeError)
	}
}

func TestEncoderClampsFrameRate(t *testing.T) {
	enc, err := NewEncoder(64, 48, 0.2, encodeTestLogger())
	if err != nil {
		t.Fatalf("NewEncoder with sub-1 fps failed: %v", err)
	}
	enc.Close()
}
