package core

import "time"

type AudioEncodingFormat int

const (
	PCM  AudioEncodingFormat = iota // 16-bit little-endian linear PCM.
	ULAW                            // μ-law encoding format.
	ALAW                            // A-law encoding format.
)

// String returns the wire name of the format.
func (f AudioEncodingFormat) String() string {
	switch f {
	case ULAW:
		return "mulaw"
	case ALAW:
		return "alaw"
	default:
		return "linear16"
	}
}

// ParseAudioEncodingFormat maps a wire name back to a format. Unknown names
// map to PCM.
func ParseAudioEncodingFormat(s string) AudioEncodingFormat {
	switch s {
	case "mulaw", "ulaw", "pcmu":
		return ULAW
	case "alaw", "pcma":
		return ALAW
	default:
		return PCM
	}
}

type AudioChunk struct {
	Data       *[]byte             // Raw audio data.
	SampleRate int                 // Sample rate of the audio data.
	Channels   int                 // Number of audio channels.
	Format     AudioEncodingFormat // Encoding format of the audio data.
	Timestamp  time.Time           // Capture or synthesis time.
}

func (ac *AudioChunk) GetDurationInSeconds() float64 {
	if ac.Data == nil || ac.SampleRate == 0 || ac.Channels == 0 {
		return 0.0
	}
	bytesPerSample := 2
	if ac.Format == ULAW || ac.Format == ALAW {
		bytesPerSample = 1
	}
	totalSamples := len(*ac.Data) / (bytesPerSample * ac.Channels)
	return float64(totalSamples) / float64(ac.SampleRate)
}

type TextChunk struct {
	Text string
}

// MediaChunk is what a transport delivers per inbound message: either audio
// or typed text.
type MediaChunk struct {
	Audio AudioChunk
	Text  TextChunk
}
