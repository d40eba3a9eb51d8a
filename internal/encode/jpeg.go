package encode

import (
	"bytes"
	"image/jpeg"
)

// JPEG markers.
const (
	markerSOI  = 0xD8
	markerDHT  = 0xC4
	markerSOS  = 0xDA
	markerTEM  = 0x01
	markerRST0 = 0xD0
	markerRST7 = 0xD7
)

// standardHuffmanTables is a DHT segment carrying the four baseline tables
// from the JPEG standard (luma and chroma, DC and AC). UVC cameras in
// MJPEG mode routinely omit the tables from each frame to save bandwidth,
// and always use exactly these.
var standardHuffmanTables = buildStandardDHT()

func buildStandardDHT() []byte {
	dcLumaBits := []byte{0, 1, 5, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0}
	dcValues := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

	acLumaBits := []byte{0, 2, 1, 3, 3, 2, 4, 3, 5, 5, 4, 4, 0, 0, 1, 0x7D}
	acLumaValues := []byte{
		0x01, 0x02, 0x03, 0x00, 0x04, 0x11, 0x05, 0x12, 0x21, 0x31, 0x41, 0x06,
		0x13, 0x51, 0x61, 0x07, 0x22, 0x71, 0x14, 0x32, 0x81, 0x91, 0xA1, 0x08,
		0x23, 0x42, 0xB1, 0xC1, 0x15, 0x52, 0xD1, 0xF0, 0x24, 0x33, 0x62, 0x72,
		0x82, 0x09, 0x0A, 0x16, 0x17, 0x18, 0x19, 0x1A, 0x25, 0x26, 0x27, 0x28,
		0x29, 0x2A, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39, 0x3A, 0x43, 0x44, 0x45,
		0x46, 0x47, 0x48, 0x49, 0x4A, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59,
		0x5A, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69, 0x6A, 0x73, 0x74, 0x75,
		0x76, 0x77, 0x78, 0x79, 0x7A, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89,
		0x8A, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97, 0x98, 0x99, 0x9A, 0xA2, 0xA3,
		0xA4, 0xA5, 0xA6, 0xA7, 0xA8, 0xA9, 0xAA, 0xB2, 0xB3, 0xB4, 0xB5, 0xB6,
		0xB7, 0xB8, 0xB9, 0xBA, 0xC2, 0xC3, 0xC4, 0xC5, 0xC6, 0xC7, 0xC8, 0xC9,
		0xCA, 0xD2, 0xD3, 0xD4, 0xD5, 0xD6, 0xD7, 0xD8, 0xD9, 0xDA, 0xE1, 0xE2,
		0xE3, 0xE4, 0xE5, 0xE6, 0xE7, 0xE8, 0xE9, 0xEA, 0xF1, 0xF2, 0xF3, 0xF4,
		0xF5, 0xF6, 0xF7, 0xF8, 0xF9, 0xFA,
	}

	dcChromaBits := []byte{0, 3, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0}

	acChromaBits := []byte{0, 2, 1, 2, 4, 4, 3, 4, 7, 5, 4, 4, 0, 1, 2, 0x77}
	acChromaValues := []byte{
		0x00, 0x01, 0x02, 0x03, 0x11, 0x04, 0x05, 0x21, 0x31, 0x06, 0x12, 0x41,
		0x51, 0x07, 0x61, 0x71, 0x13, 0x22, 0x32, 0x81, 0x08, 0x14, 0x42, 0x91,
		0xA1, 0xB1, 0xC1, 0x09, 0x23, 0x33, 0x52, 0xF0, 0x15, 0x62, 0x72, 0xD1,
		0x0A, 0x16, 0x24, 0x34, 0xE1, 0x25, 0xF1, 0x17, 0x18, 0x19, 0x1A, 0x26,
		0x27, 0x28, 0x29, 0x2A, 0x35, 0x36, 0x37, 0x38, 0x39, 0x3A, 0x43, 0x44,
		0x45, 0x46, 0x47, 0x48, 0x49, 0x4A, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58,
		0x59, 0x5A, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69, 0x6A, 0x73, 0x74,
		0x75, 0x76, 0x77, 0x78, 0x79, 0x7A, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87,
		0x88, 0x89, 0x8A, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97, 0x98, 0x99, 0x9A,
		0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7, 0xA8, 0xA9, 0xAA, 0xB2, 0xB3, 0xB4,
		0xB5, 0xB6, 0xB7, 0xB8, 0xB9, 0xBA, 0xC2, 0xC3, 0xC4, 0xC5, 0xC6, 0xC7,
		0xC8, 0xC9, 0xCA, 0xD2, 0xD3, 0xD4, 0xD5, 0xD6, 0xD7, 0xD8, 0xD9, 0xDA,
		0xE2, 0xE3, 0xE4, 0xE5, 0xE6, 0xE7, 0xE8, 0xE9, 0xEA, 0xF2, 0xF3, 0xF4,
		0xF5, 0xF6, 0xF7, 0xF8, 0xF9, 0xFA,
	}

	var payload bytes.Buffer
	writeTable := func(class byte, bits, values []byte) {
		payload.WriteByte(class)
		payload.Write(bits)
		payload.Write(values)
	}
	writeTable(0x00, dcLumaBits, dcValues)   // DC luma
	writeTable(0x10, acLumaBits, acLumaValues) // AC luma
	writeTable(0x01, dcChromaBits, dcValues) // DC chroma
	writeTable(0x11, acChromaBits, acChromaValues) // AC chroma

	length := payload.Len() + 2
	segment := make([]byte, 0, payload.Len()+4)
	segment = append(segment, 0xFF, markerDHT, byte(length>>8), byte(length))
	return append(segment, payload.Bytes()...)
}

// ensureHuffmanTables inserts the standard baseline tables before the scan
// if the frame does not define its own. Frames that already carry a DHT
// segment, and frames too mangled to parse, pass through untouched.
func ensureHuffmanTables(data []byte) []byte {
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return data
	}

	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return data
		}
		marker := data[i+1]
		switch {
		case marker == markerDHT:
			return data
		case marker == markerSOS:
			patched := make([]byte, 0, len(data)+len(standardHuffmanTables))
			patched = append(patched, data[:i]...)
			patched = append(patched, standardHuffmanTables...)
			return append(patched, data[i:]...)
		case marker == markerTEM || (marker >= markerRST0 && marker <= markerRST7):
			i += 2
		default:
			segLen := int(data[i+2])<<8 | int(data[i+3])
			if segLen < 2 {
				return data
			}
			i += 2 + segLen
		}
	}
	return data
}

// FromJPEG decodes an MJPEG frame into planar 4:2:0, tolerating frames
// that omit the Huffman tables.
func FromJPEG(data []byte) (*I420Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(ensureHuffmanTables(data)))
	if err != nil {
		return nil, newError(ErrCodeEncodeError, "failed to decode MJPEG frame", err)
	}
	return FromImage(img), nil
}
