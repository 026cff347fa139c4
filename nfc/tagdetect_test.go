package nfc

import "testing"

func TestDetectTagTypeFromATR(t *testing.T) {
	tests := []struct {
		name string
		atr  []byte
		want DetectedTagType
	}{
		{
			name: "felica standard byte",
			atr:  []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x11, 0x00, 0x3B, 0x00, 0x00, 0x00, 0x00, 0x42},
			want: DetectedFelica,
		},
		{
			name: "felica card name",
			atr:  []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x00, 0x00, 0x3B, 0x00, 0x00, 0x00, 0x00, 0x53},
			want: DetectedFelica,
		},
		{
			name: "iso14443a",
			atr:  []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x6A},
			want: DetectedISO14443A,
		},
		{
			name: "iso14443b",
			atr:  []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x07, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x6D},
			want: DetectedISO14443B,
		},
		{"empty", nil, DetectedUnknown},
		{"bad TS", []byte{0x00, 0x8F, 0x80}, DetectedUnknown},
		{"no historical bytes", []byte{0x3B, 0x00}, DetectedUnknown},
		{"truncated interface bytes", []byte{0x3B, 0x8F, 0x80}, DetectedUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectTagTypeFromATR(tt.atr); got != tt.want {
				t.Errorf("detectTagTypeFromATR() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectedTypeName(t *testing.T) {
	tests := map[DetectedTagType]string{
		DetectedFelica:    TagTypeFelica,
		DetectedISO14443A: TagTypeISO14443A,
		DetectedISO14443B: "ISO14443B",
		DetectedUnknown:   TagTypeUnknown,
	}
	for in, want := range tests {
		if got := detectedTypeName(in); got != want {
			t.Errorf("detectedTypeName(%v) = %q, want %q", in, got, want)
		}
	}
}
