package speech

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

// ErrInvalidAudio is returned for uploads that are not decodable WAV audio.
var ErrInvalidAudio = errors.New("speech: invalid audio input")

// WAVE format tags accepted by ValidateWAV
const (
	formatPCM        = 0x0001
	formatIEEEFloat  = 0x0003
	formatExtensible = 0xFFFE
)

// ValidateWAV checks that b decodes as WAV audio: a RIFF/WAVE container
// whose fmt chunk describes PCM or float samples, followed by a non-empty
// data chunk.
func ValidateWAV(b []byte) error {
	if len(b) < 12 {
		return fmt.Errorf("%w: %d bytes is too short", ErrInvalidAudio, len(b))
	}

	d := wav.NewDecoder(bytes.NewReader(b))
	if !d.IsValidFile() {
		if err := d.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAudio, err)
		}
		return fmt.Errorf("%w: not a readable WAV file", ErrInvalidAudio)
	}

	switch d.WavAudioFormat {
	case formatPCM, formatIEEEFloat, formatExtensible:
	default:
		return fmt.Errorf("%w: unsupported format tag 0x%04X", ErrInvalidAudio, d.WavAudioFormat)
	}
	if d.SampleRate == 0 {
		return fmt.Errorf("%w: zero sample rate", ErrInvalidAudio)
	}
	if d.NumChans == 0 || d.BitDepth == 0 {
		return fmt.Errorf("%w: %d channels, %d bits per sample", ErrInvalidAudio, d.NumChans, d.BitDepth)
	}

	if err := d.FwdToPCM(); err != nil {
		return fmt.Errorf("%w: missing data chunk: %v", ErrInvalidAudio, err)
	}
	if d.PCMLen() == 0 {
		return fmt.Errorf("%w: no samples", ErrInvalidAudio)
	}

	return nil
}
