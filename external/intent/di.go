package intent

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/foxseedlab/voicecal/internal/config"
	"github.com/foxseedlab/voicecal/internal/intent"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (intent.Extractor, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewGeminiExtractor(context.Background(), GeminiConfig{
			APIKey: c.GeminiAPIKey,
			Model:  c.GeminiModel,
		})
	})
}
