//go:build opus

package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/hraban/opus"

	"github.com/foxseedlab/voicecal/internal/audio"
)

const samplesPerFrame = audio.SampleRateHz * audio.FrameMs * audio.Channels / 1000

type OpusDecoder struct {
	dec *opus.Decoder
	pcm []int16
}

func NewOpusDecoder() (audio.Decoder, error) {
	dec, err := opus.NewDecoder(audio.SampleRateHz, audio.Channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, pcm: make([]int16, samplesPerFrame)}, nil
}

func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	if len(packet) == 0 {
		return nil, nil
	}
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("decode opus packet: %w", err)
	}
	return encodePCM(d.pcm[:min(n*audio.Channels, samplesPerFrame)]), nil
}

func (d *OpusDecoder) Close() {}

func encodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
