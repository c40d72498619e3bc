package wav

import (
	"encoding/binary"
	"fmt"
)

// headerSize is the byte length of a canonical RIFF/WAVE header with a
// 16-byte PCM fmt chunk followed immediately by the data chunk.
const headerSize = 44

const pcmFormatCode = 1

// Header describes the audio inside a WAV container.
type Header struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataLen       int
}

// Encode wraps raw PCM in a RIFF/WAVE container with a PCM fmt chunk.
func Encode(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf := make([]byte, headerSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], pcmFormatCode)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)

	return buf
}

// Parse reads the header of a canonical PCM WAV container.
func Parse(b []byte) (Header, error) {
	var h Header
	if len(b) < headerSize {
		return h, fmt.Errorf("wav: container too short (%d bytes)", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return h, fmt.Errorf("wav: missing RIFF/WAVE markers")
	}
	if string(b[12:16]) != "fmt " {
		return h, fmt.Errorf("wav: missing fmt chunk")
	}
	if code := binary.LittleEndian.Uint16(b[20:22]); code != pcmFormatCode {
		return h, fmt.Errorf("wav: unsupported format code %d", code)
	}
	if string(b[36:40]) != "data" {
		return h, fmt.Errorf("wav: missing data chunk")
	}

	h.Channels = int(binary.LittleEndian.Uint16(b[22:24]))
	h.SampleRate = int(binary.LittleEndian.Uint32(b[24:28]))
	h.BitsPerSample = int(binary.LittleEndian.Uint16(b[34:36]))
	h.DataLen = int(binary.LittleEndian.Uint32(b[40:44]))

	if h.DataLen > len(b)-headerSize {
		return h, fmt.Errorf("wav: data chunk length %d exceeds container", h.DataLen)
	}
	return h, nil
}
