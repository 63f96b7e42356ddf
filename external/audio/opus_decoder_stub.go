//go:build !opus

package audio

import "github.com/foxseedlab/voicecal/internal/audio"

// Without the opus build tag voice packets are dropped, so a Discord session
// only reacts to slash commands.
type noopDecoder struct{}

func NewOpusDecoder() (audio.Decoder, error) {
	return noopDecoder{}, nil
}

func (noopDecoder) Decode(_ []byte) ([]byte, error) {
	return nil, nil
}

func (noopDecoder) Close() {}
