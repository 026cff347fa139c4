package nfc

// DetectedTagType represents detected tag type from ATR
type DetectedTagType int

// Detected tag type constants for PC/SC detection
const (
	DetectedUnknown DetectedTagType = iota
	DetectedFelica
	DetectedISO14443A
	DetectedISO14443B
)

// PC/SC 2.01 part 3 standard bytes
const (
	atrStandardISO14443A = 0x03
	atrStandardISO14443B = 0x07
	atrStandardFelica    = 0x11
)

// atrCardNameFelica is the card name of FeliCa in the PC/SC registered list.
const atrCardNameFelica = 0x003B

// detectTagTypeFromATR parses ATR and returns detected tag type
func detectTagTypeFromATR(atr []byte) DetectedTagType {
	// Common ATR formats for contactless cards:
	// 3B 8F 80 01 80 4F 0C A0 00 00 03 06 SS NN NN 00 00 00 00 YY
	//                                     ^^ standard
	//                                        ^^^^^ card name
	histStart := findHistoricalBytesStart(atr)
	if histStart < 0 || histStart >= len(atr) {
		return DetectedUnknown
	}

	histBytes := atr[histStart:]

	// Look for standard prefix: 80 4F 0C A0 00 00 03 06
	for i := 0; i+10 < len(histBytes); i++ {
		if histBytes[i] != 0x80 ||
			histBytes[i+1] != 0x4F ||
			histBytes[i+3] != 0xA0 ||
			histBytes[i+4] != 0x00 ||
			histBytes[i+5] != 0x00 ||
			histBytes[i+6] != 0x03 ||
			histBytes[i+7] != 0x06 {
			continue
		}

		standard := histBytes[i+8]
		name := uint16(histBytes[i+9])<<8 | uint16(histBytes[i+10])
		switch {
		case standard == atrStandardFelica || name == atrCardNameFelica:
			return DetectedFelica
		case standard == atrStandardISO14443A:
			return DetectedISO14443A
		case standard == atrStandardISO14443B:
			return DetectedISO14443B
		}
		return DetectedUnknown
	}

	return DetectedUnknown
}

// findHistoricalBytesStart finds the start of historical bytes in ATR
func findHistoricalBytesStart(atr []byte) int {
	if len(atr) < 2 {
		return -1
	}

	// ATR format:
	// TS (3B or 3F)
	// T0 (format byte, lower nibble = number of historical bytes)
	// TA1, TB1, TC1, TD1 (optional, indicated by T0)
	// TA2, TB2, TC2, TD2 (optional, indicated by TD1)
	// ... more interface bytes
	// Historical bytes
	// TCK (check byte, only if T!=0)

	ts := atr[0]
	if ts != 0x3B && ts != 0x3F {
		return -1
	}

	t0 := atr[1]
	numHistBytes := int(t0 & 0x0F)
	if numHistBytes == 0 {
		return -1
	}

	// Count interface bytes
	pos := 2
	td := t0

	for {
		if (td & 0x10) != 0 {
			pos++ // TAi present
		}
		if (td & 0x20) != 0 {
			pos++ // TBi present
		}
		if (td & 0x40) != 0 {
			pos++ // TCi present
		}
		if (td & 0x80) != 0 {
			if pos >= len(atr) {
				return -1
			}
			td = atr[pos] // TDi present, read it
			pos++
		} else {
			break
		}
	}

	if pos >= len(atr) {
		return -1
	}

	return pos
}

// detectedTypeName returns human-readable name for detected tag type
func detectedTypeName(tagType DetectedTagType) string {
	switch tagType {
	case DetectedFelica:
		return TagTypeFelica
	case DetectedISO14443A:
		return TagTypeISO14443A
	case DetectedISO14443B:
		return "ISO14443B"
	default:
		return TagTypeUnknown
	}
}
