package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zaf/g711"

	"soulagent/core"
)

var errOddPCM = errors.New("audio: PCM length must be even (16-bit samples)")

// g711Codec converts between linear PCM and one G.711 companding law.
type g711Codec struct {
	encode func([]byte) []byte
	decode func([]byte) []byte
}

var g711Codecs = map[core.AudioEncodingFormat]g711Codec{
	core.ULAW: {encode: g711.EncodeUlaw, decode: g711.DecodeUlaw},
	core.ALAW: {encode: g711.EncodeAlaw, decode: g711.DecodeAlaw},
}

// ValidatePCMData checks that pcm holds whole 16-bit frames for numChannels.
func ValidatePCMData(pcm []byte, numChannels int) error {
	switch {
	case numChannels <= 0:
		return fmt.Errorf("audio: invalid channel count %d", numChannels)
	case len(pcm) == 0:
		return errors.New("audio: PCM data is empty")
	case len(pcm)%2 != 0:
		return errOddPCM
	case len(pcm)%(2*numChannels) != 0:
		return fmt.Errorf("audio: %d bytes is not a whole number of %d-channel frames", len(pcm), numChannels)
	}
	return nil
}

// ConvertAudioChunk converts a chunk to the target encoding, channel count
// and sample rate. Companded input is decoded to PCM first; the result is
// encoded last. A chunk already in the target shape is returned as is.
func ConvertAudioChunk(
	input core.AudioChunk,
	targetFormat core.AudioEncodingFormat,
	targetChannels int,
	targetSampleRate int,
) (core.AudioChunk, error) {
	if input.Data == nil {
		return core.AudioChunk{}, errors.New("audio: chunk has no data")
	}
	if input.Format == targetFormat && input.Channels == targetChannels && input.SampleRate == targetSampleRate {
		return input, nil
	}

	out := input
	pcm := *input.Data
	if input.Format != core.PCM {
		codec, ok := g711Codecs[input.Format]
		if !ok {
			return core.AudioChunk{}, fmt.Errorf("audio: cannot decode %s", input.Format)
		}
		pcm = codec.decode(pcm)
	}

	if input.Channels != targetChannels {
		var err error
		if pcm, err = convertChannels(pcm, input.Channels, targetChannels); err != nil {
			return core.AudioChunk{}, err
		}
		out.Channels = targetChannels
	}

	if input.SampleRate != targetSampleRate {
		var err error
		if pcm, err = ResamplePCMBytes(pcm, out.Channels, input.SampleRate, targetSampleRate); err != nil {
			return core.AudioChunk{}, err
		}
		out.SampleRate = targetSampleRate
	}

	if targetFormat != core.PCM {
		codec, ok := g711Codecs[targetFormat]
		if !ok {
			return core.AudioChunk{}, fmt.Errorf("audio: cannot encode %s", targetFormat)
		}
		if len(pcm)%2 != 0 {
			return core.AudioChunk{}, errOddPCM
		}
		pcm = codec.encode(pcm)
	}

	out.Data = &pcm
	out.Format = targetFormat
	return out, nil
}

func convertChannels(pcm []byte, from, to int) ([]byte, error) {
	switch {
	case from == to:
		return pcm, nil
	case from == 1 && to == 2:
		return monoToStereo(pcm), nil
	case from == 2 && to == 1:
		return stereoToMono(pcm), nil
	}
	return nil, fmt.Errorf("audio: unsupported channel conversion %d -> %d", from, to)
}

// monoToStereo copies every sample into both channels.
func monoToStereo(mono []byte) []byte {
	frames := len(mono) / 2
	out := make([]byte, frames*4)
	for i := range frames {
		copy(out[i*4:i*4+2], mono[i*2:i*2+2])
		copy(out[i*4+2:i*4+4], mono[i*2:i*2+2])
	}
	return out
}

// stereoToMono averages the left and right channels.
func stereoToMono(stereo []byte) []byte {
	frames := len(stereo) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		left := int(int16(binary.LittleEndian.Uint16(stereo[i*4:])))
		right := int(int16(binary.LittleEndian.Uint16(stereo[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((left+right)/2)))
	}
	return out
}
