package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soulagent/core"
)

func pcmOf(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func samplesOf(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func TestResamplePCMBytes_Upsample(t *testing.T) {
	out, err := ResamplePCMBytes(pcmOf(0, 100, 200, 300), 1, 8000, 16000)
	require.NoError(t, err)
	assert.Equal(t, []int16{0, 50, 100, 150, 200, 250, 300, 300}, samplesOf(out))
}

func TestResamplePCMBytes_Downsample(t *testing.T) {
	out, err := ResamplePCMBytes(pcmOf(0, 10, 20, 30, 40, 50), 1, 48000, 16000)
	require.NoError(t, err)
	assert.Equal(t, []int16{0, 30}, samplesOf(out))
}

func TestResamplePCMBytes_Stereo(t *testing.T) {
	out, err := ResamplePCMBytes(pcmOf(0, 1000, 100, 1100), 2, 8000, 16000)
	require.NoError(t, err)
	assert.Equal(t, []int16{0, 1000, 50, 1050, 100, 1100, 100, 1100}, samplesOf(out))
}

func TestResamplePCMBytes_Errors(t *testing.T) {
	_, err := ResamplePCMBytes(pcmOf(1), 1, 0, 16000)
	assert.Error(t, err)

	_, err = ResamplePCMBytes([]byte{1, 2, 3}, 1, 8000, 16000)
	assert.Error(t, err)

	same := pcmOf(1, 2)
	out, err := ResamplePCMBytes(same, 1, 16000, 16000)
	require.NoError(t, err)
	assert.Equal(t, same, out)
}

func TestConvertChannels(t *testing.T) {
	stereo := monoToStereo(pcmOf(5, -5))
	assert.Equal(t, []int16{5, 5, -5, -5}, samplesOf(stereo))

	mono := stereoToMono(pcmOf(10, 20, -10, -30))
	assert.Equal(t, []int16{15, -20}, samplesOf(mono))

	_, err := convertChannels(pcmOf(1, 2, 3), 3, 1)
	assert.Error(t, err)
}

func TestConvertAudioChunk_ULawRoundTrip(t *testing.T) {
	pcm := pcmOf(0, 1000, -1000, 8000)
	in := core.AudioChunk{Data: &pcm, SampleRate: 8000, Channels: 1, Format: core.PCM}

	ulaw, err := ConvertAudioChunk(in, core.ULAW, 1, 8000)
	require.NoError(t, err)
	assert.Equal(t, core.ULAW, ulaw.Format)
	assert.Len(t, *ulaw.Data, 4)

	back, err := ConvertAudioChunk(ulaw, core.PCM, 1, 16000)
	require.NoError(t, err)
	assert.Equal(t, core.PCM, back.Format)
	assert.Equal(t, 16000, back.SampleRate)
	assert.Len(t, *back.Data, 16)
}

func TestConvertAudioChunk_NoOpAndNil(t *testing.T) {
	pcm := pcmOf(1, 2)
	in := core.AudioChunk{Data: &pcm, SampleRate: 16000, Channels: 1, Format: core.PCM}
	out, err := ConvertAudioChunk(in, core.PCM, 1, 16000)
	require.NoError(t, err)
	assert.Same(t, in.Data, out.Data)

	_, err = ConvertAudioChunk(core.AudioChunk{}, core.PCM, 1, 16000)
	assert.Error(t, err)
}

func TestConvertAudioChunk_ALawStereoToMono(t *testing.T) {
	pcm := pcmOf(1000, 1000, -2000, -2000)
	stereo := core.AudioChunk{Data: &pcm, SampleRate: 8000, Channels: 2, Format: core.PCM}

	alaw, err := ConvertAudioChunk(stereo, core.ALAW, 1, 8000)
	require.NoError(t, err)
	assert.Equal(t, 1, alaw.Channels)
	require.Len(t, *alaw.Data, 2)

	back, err := ConvertAudioChunk(alaw, core.PCM, 1, 8000)
	require.NoError(t, err)
	got := samplesOf(*back.Data)
	assert.InDelta(t, 1000, got[0], 64)
	assert.InDelta(t, -2000, got[1], 64)
	assert.Equal(t, pcmOf(1000, 1000, -2000, -2000), pcm, "input is not modified")
}
