package discordbot

import (
	"github.com/samber/do/v2"

	"github.com/foxseedlab/voicecal/internal/audio"
	"github.com/foxseedlab/voicecal/internal/config"
	"github.com/foxseedlab/voicecal/internal/discord"
	"github.com/foxseedlab/voicecal/internal/session"
	"github.com/foxseedlab/voicecal/internal/transcriber"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Bot, error) {
		c := do.MustInvoke[*config.Config](i)
		return New(
			Config{GuildID: c.DiscordGuildID, Language: c.DefaultLanguage},
			do.MustInvoke[discord.Client](i),
			do.MustInvoke[transcriber.Transcriber](i),
			do.MustInvoke[audio.DecoderFactory](i),
			do.MustInvoke[*session.Registry](i),
		), nil
	})
}
