package websocket

import (
	"github.com/samber/do/v2"

	"github.com/foxseedlab/voicecal/internal/config"
	"github.com/foxseedlab/voicecal/internal/repository"
	"github.com/foxseedlab/voicecal/internal/session"
	"github.com/foxseedlab/voicecal/internal/transcriber"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		c := do.MustInvoke[*config.Config](i)
		var stt transcriber.Transcriber
		if c.SpeechEnabled() {
			stt = do.MustInvoke[transcriber.Transcriber](i)
		}
		return NewServer(Config{
			Addr:                c.HTTPAddr,
			DefaultLanguage:     c.DefaultLanguage,
			MaxUtterancesPerSec: c.LiveMaxUtterancesPerSec,
		}, do.MustInvoke[*session.Registry](i), do.MustInvoke[repository.Repository](i), stt), nil
	})
}
