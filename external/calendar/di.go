package calendar

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/foxseedlab/voicecal/internal/calendar"
	"github.com/foxseedlab/voicecal/internal/config"
)

const calendarInitTimeout = 15 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*GoogleCalendar, error) {
		c := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), calendarInitTimeout)
		defer cancel()
		svc, err := NewGoogleService(ctx, GoogleConfig{
			ClientID:        c.GoogleClientID,
			ClientSecret:    c.GoogleClientSecret,
			TokenFile:       c.GoogleCalendarTokenFile,
			CredentialsJSON: c.GoogleCloudCredentialsJSON,
		})
		if err != nil {
			return nil, err
		}
		return NewGoogleCalendar(svc, c.GoogleCalendarID), nil
	})
	do.Provide(injector, func(i do.Injector) (calendar.Sink, error) {
		return do.MustInvoke[*GoogleCalendar](i), nil
	})
	do.Provide(injector, func(i do.Injector) (calendar.Source, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.CalendarSource == config.CalendarSourceICS {
			return NewICSFeed(c.ICSURL), nil
		}
		return do.MustInvoke[*GoogleCalendar](i), nil
	})
}
