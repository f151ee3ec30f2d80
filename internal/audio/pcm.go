// Package audio captures and plays 16-bit mono PCM at 16 kHz.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	SampleRate      = 16000
	Channels        = 1
	FramesPerBuffer = 1024
	bitsPerSample   = 16
	wavHeaderSize   = 44
)

// ErrNotWAV is returned by DecodeWAV for anything but a PCM RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: not a PCM wav file")

// Int16ToBytes encodes samples as little-endian PCM.
func Int16ToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

// BytesToInt16 decodes little-endian PCM. A trailing odd byte is dropped.
func BytesToInt16(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out
}

// EncodeWAV wraps raw PCM in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	byteRate := SampleRate * Channels * bitsPerSample / 8
	blockAlign := Channels * bitsPerSample / 8

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// DecodeWAV returns the PCM payload of a file written by EncodeWAV.
func DecodeWAV(data []byte) ([]byte, error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}
	if binary.LittleEndian.Uint16(data[20:22]) != 1 {
		return nil, ErrNotWAV
	}
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if id == "data" {
			end := body + size
			if end > len(data) {
				end = len(data)
			}
			return data[body:end], nil
		}
		offset = body + size + size%2
	}
	return nil, ErrNotWAV
}
