package stt

import (
	"bytes"
	"encoding/binary"
)

// EncodeWAV wraps the utterance in a canonical 44-byte RIFF/WAVE header
// (PCM, mono, 16-bit).
func EncodeWAV(u Utterance) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	dataSize := uint32(len(u.Samples) * 2)
	byteRate := uint32(u.SampleRate * channels * bitsPerSample / 8)

	var buf bytes.Buffer
	buf.Grow(44 + int(dataSize))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(u.SampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(channels*bitsPerSample/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	binary.Write(&buf, binary.LittleEndian, u.Samples)

	return buf.Bytes()
}
