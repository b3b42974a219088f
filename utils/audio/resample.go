package audio

import (
	"encoding/binary"
	"errors"
)

// ResamplePCMBytes converts interleaved 16-bit little-endian PCM between
// sample rates with linear interpolation. Speech in this pipeline only moves
// between 8, 16, 24 and 48 kHz, where linear interpolation is audibly clean.
func ResamplePCMBytes(pcm []byte, channels, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, errors.New("sample rates must be positive")
	}
	if fromRate == toRate || len(pcm) == 0 {
		return pcm, nil
	}
	if err := ValidatePCMData(pcm, channels); err != nil {
		return nil, err
	}

	inFrames := len(pcm) / (2 * channels)
	outFrames := int(int64(inFrames) * int64(toRate) / int64(fromRate))
	if outFrames == 0 {
		return []byte{}, nil
	}

	sample := func(frame, ch int) float64 {
		off := (frame*channels + ch) * 2
		return float64(int16(binary.LittleEndian.Uint16(pcm[off:])))
	}

	out := make([]byte, outFrames*channels*2)
	step := float64(fromRate) / float64(toRate)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= inFrames {
			next = inFrames - 1
		}
		for ch := 0; ch < channels; ch++ {
			v := sample(idx, ch)*(1-frac) + sample(next, ch)*frac
			binary.LittleEndian.PutUint16(out[(i*channels+ch)*2:], uint16(clampInt16(v)))
		}
	}
	return out, nil
}

func clampInt16(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	case v >= 0:
		return int16(v + 0.5)
	default:
		return int16(v - 0.5)
	}
}
