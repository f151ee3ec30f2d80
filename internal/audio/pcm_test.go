package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt16RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}
	data := Int16ToBytes(samples)
	assert.Len(t, data, 12)
	assert.Equal(t, []byte{0xff, 0xff}, data[4:6])
	assert.Equal(t, samples, BytesToInt16(data))
}

func TestBytesToInt16DropsOddByte(t *testing.T) {
	assert.Equal(t, []int16{1}, BytesToInt16([]byte{1, 0, 7}))
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := Int16ToBytes([]int16{10, 20, 30})
	wav := EncodeWAV(pcm)

	require.Len(t, wav, 44+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]))
	assert.Equal(t, uint32(SampleRate), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(SampleRate*2), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))

	decoded, err := DecodeWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, pcm, decoded)
}

func TestDecodeWAVRejectsOtherData(t *testing.T) {
	_, err := DecodeWAV([]byte("definitely not a wav file, just some text here....."))
	assert.ErrorIs(t, err, ErrNotWAV)

	_, err = DecodeWAV(nil)
	assert.ErrorIs(t, err, ErrNotWAV)
}
