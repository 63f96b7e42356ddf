package audio

// Discord voice is 48kHz stereo opus in 20ms frames.
const (
	SampleRateHz = 48000
	Channels     = 2
	FrameMs      = 20
)

// Decoder turns one speaker's opus packets into little-endian s16 PCM.
type Decoder interface {
	Decode(opus []byte) ([]byte, error)
	Close()
}

type DecoderFactory func() (Decoder, error)
