package session

import (
	"time"

	"github.com/samber/do/v2"

	"github.com/foxseedlab/voicecal/internal/calendar"
	"github.com/foxseedlab/voicecal/internal/config"
	"github.com/foxseedlab/voicecal/internal/intent"
	"github.com/foxseedlab/voicecal/internal/repository"
	"github.com/foxseedlab/voicecal/internal/schedule"
	"github.com/foxseedlab/voicecal/internal/webhook"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Registry, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		wh := do.MustInvoke[webhook.Sender](i)
		deps := Deps{
			Source:    do.MustInvoke[calendar.Source](i),
			Sink:      do.MustInvoke[calendar.Sink](i),
			Extractor: do.MustInvoke[intent.Extractor](i),
			Generator: NewGenerator(cfg),
		}
		return NewRegistry(RegistryConfigFrom(cfg), deps, NewInteractionLog(repo, wh)), nil
	})
	do.Provide(injector, func(i do.Injector) (*Janitor, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewJanitor(do.MustInvoke[*Registry](i), cfg.SessionSweepInterval)
	})
}

func NewGenerator(cfg *config.Config) *schedule.Generator {
	gc := schedule.DefaultGeneratorConfig()
	gc.Step = time.Duration(cfg.SchedulingStepMinutes) * time.Minute
	gc.DayStartHour = cfg.SchedulingDayStartHour
	gc.DayEndHour = cfg.SchedulingDayEndHour
	if len(cfg.SchedulingCommonHours) > 0 {
		gc.CommonHours = append([]int(nil), cfg.SchedulingCommonHours...)
	}
	return schedule.NewGenerator(schedule.NewDetector(cfg.SchedulingBufferMinutes), gc)
}

func RegistryConfigFrom(cfg *config.Config) RegistryConfig {
	return RegistryConfig{
		IdleTimeout:     cfg.SessionIdleTimeout,
		QueueSize:       cfg.SessionQueueSize,
		DefaultTimezone: cfg.DefaultTimezone,
		Machine: MachineConfig{
			DefaultDuration:     time.Duration(cfg.SchedulingDefaultDurationMin) * time.Minute,
			SuggestionCount:     cfg.SchedulingSuggestionCount,
			RecheckBeforeCommit: true,
		},
	}
}
