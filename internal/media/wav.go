package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
)

// WAV decoding errors
var (
	ErrNotWAV            = errors.New("not a RIFF/WAVE file")
	ErrUnsupportedFormat = errors.New("unsupported WAV encoding")
)

// Waveform holds decoded mono PCM samples normalized to [-1, 1].
// Multi-channel input is downmixed by averaging.
type Waveform struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the waveform length in seconds.
func (w *Waveform) Duration() float64 {
	if w.SampleRate == 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// DecodeWAVFile reads a PCM WAV file into a normalized mono waveform.
func DecodeWAVFile(path string) (*Waveform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	return DecodeWAV(data)
}

// DecodeWAV parses RIFF/WAVE bytes. Supports 8-bit unsigned, 16-bit signed,
// and 32-bit float PCM.
func DecodeWAV(data []byte) (*Waveform, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var (
		audioFormat uint16
		channels    int
		sampleRate  int
		bitDepth    int
		pcm         []byte
	)

	// Walk RIFF chunks; fmt must precede data.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, ErrNotWAV
			}
			audioFormat = binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if channels == 0 || sampleRate == 0 || pcm == nil {
		return nil, ErrNotWAV
	}
	// PCM (1) or IEEE float (3)
	if audioFormat != 1 && audioFormat != 3 {
		return nil, fmt.Errorf("%w: format tag %d", ErrUnsupportedFormat, audioFormat)
	}

	samples, err := decodePCM(pcm, bitDepth, channels)
	if err != nil {
		return nil, err
	}

	return &Waveform{Samples: samples, SampleRate: sampleRate}, nil
}

// decodePCM converts interleaved PCM bytes to normalized mono samples.
func decodePCM(pcm []byte, bitDepth, channels int) ([]float64, error) {
	switch bitDepth {
	case 16:
		frame := 2 * channels
		n := len(pcm) / frame
		samples := make([]float64, 0, n)
		for i := 0; i+frame <= len(pcm); i += frame {
			var sum float64
			for c := 0; c < channels; c++ {
				s := int16(pcm[i+2*c]) | int16(pcm[i+2*c+1])<<8
				sum += float64(s) / 32768.0
			}
			samples = append(samples, sum/float64(channels))
		}
		return samples, nil
	case 32:
		frame := 4 * channels
		n := len(pcm) / frame
		samples := make([]float64, 0, n)
		for i := 0; i+frame <= len(pcm); i += frame {
			var sum float64
			for c := 0; c < channels; c++ {
				bits := binary.LittleEndian.Uint32(pcm[i+4*c : i+4*c+4])
				sum += float64(math.Float32frombits(bits))
			}
			samples = append(samples, sum/float64(channels))
		}
		return samples, nil
	case 8:
		// 8-bit WAV is unsigned
		frame := channels
		samples := make([]float64, 0, len(pcm)/frame)
		for i := 0; i+frame <= len(pcm); i += frame {
			var sum float64
			for c := 0; c < channels; c++ {
				sum += (float64(pcm[i+c]) - 128.0) / 128.0
			}
			samples = append(samples, sum/float64(channels))
		}
		return samples, nil
	default:
		return nil, fmt.Errorf("%w: %d-bit", ErrUnsupportedFormat, bitDepth)
	}
}

// EncodeWAV writes normalized mono samples as 16-bit PCM WAV bytes.
// Used to wrap raw PCM from TTS providers and by tests.
func EncodeWAV(samples []float64, sampleRate int) []byte {
	dataLen := len(samples) * 2
	buf := make([]byte, 44+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(buf[44+i*2:44+i*2+2], uint16(v))
	}
	return buf
}
