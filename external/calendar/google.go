package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/auth/credentials"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/foxseedlab/voicecal/internal/calendar"
	"github.com/foxseedlab/voicecal/internal/schedule"
)

const (
	untitledMeeting = "Meeting"
	eventPageSize   = 250
	// OAuthRedirectURL is the out-of-band redirect used by the desktop flow.
	OAuthRedirectURL = "urn:ietf:wg:oauth:2.0:oob"
)

type GoogleConfig struct {
	ClientID        string
	ClientSecret    string
	TokenFile       string
	CredentialsJSON string
}

// GoogleCalendar reads and books events in one Google calendar.
type GoogleCalendar struct {
	service    *gcal.Service
	calendarID string
}

var (
	_ calendar.Source = (*GoogleCalendar)(nil)
	_ calendar.Sink   = (*GoogleCalendar)(nil)
)

func NewGoogleCalendar(service *gcal.Service, calendarID string) *GoogleCalendar {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleCalendar{service: service, calendarID: calendarID}
}

// NewGoogleService authenticates with the OAuth token file when one is
// configured and falls back to the credentials JSON otherwise.
func NewGoogleService(ctx context.Context, cfg GoogleConfig) (*gcal.Service, error) {
	if cfg.TokenFile != "" {
		token, err := LoadToken(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("could not load calendar token from %s: %w; run calendar-auth first", cfg.TokenFile, err)
		}
		client := OAuthConfig(cfg.ClientID, cfg.ClientSecret).Client(ctx, token)
		svc, err := gcal.NewService(ctx, option.WithHTTPClient(client))
		if err != nil {
			return nil, fmt.Errorf("create calendar service: %w", err)
		}
		return svc, nil
	}

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(cfg.CredentialsJSON),
		Scopes:          []string{gcal.CalendarScope},
	})
	if err != nil {
		return nil, fmt.Errorf("detect calendar credentials: %w", err)
	}
	svc, err := gcal.NewService(ctx, option.WithAuthCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}

func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  OAuthRedirectURL,
		Scopes:       []string{gcal.CalendarScope},
		Endpoint:     google.Endpoint,
	}
}

func LoadToken(path string) (*oauth2.Token, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(b, tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("token file has neither an access nor a refresh token")
	}
	return tok, nil
}

func SaveToken(path string, token *oauth2.Token) error {
	b, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

func (g *GoogleCalendar) FetchEvents(ctx context.Context, timezone string, window schedule.TimeRange) ([]schedule.CalendarEvent, error) {
	call := g.service.Events.List(g.calendarID).
		Context(ctx).
		ShowDeleted(false).
		SingleEvents(true).
		OrderBy("startTime").
		TimeMin(window.Start().Format(time.RFC3339)).
		TimeMax(window.End().Format(time.RFC3339)).
		MaxResults(eventPageSize)
	if timezone != "" {
		call = call.TimeZone(timezone)
	}

	var out []schedule.CalendarEvent
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			ev, ok := toCalendarEvent(item, timezone)
			if ok {
				out = append(out, ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list calendar events: %w", err)
	}
	slog.Debug("fetched calendar events", "calendar_id", g.calendarID, "count", len(out), "window", window.String())
	return out, nil
}

func toCalendarEvent(item *gcal.Event, timezone string) (schedule.CalendarEvent, bool) {
	// All-day entries only carry Date.
	if item.Status == "cancelled" || item.Start == nil || item.End == nil || item.Start.DateTime == "" || item.End.DateTime == "" {
		return schedule.CalendarEvent{}, false
	}
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		slog.Warn("skipping calendar event with invalid start", "event_id", item.Id, "error", err)
		return schedule.CalendarEvent{}, false
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		slog.Warn("skipping calendar event with invalid end", "event_id", item.Id, "error", err)
		return schedule.CalendarEvent{}, false
	}
	r, err := schedule.NewTimeRange(start, end, timezone)
	if err != nil {
		slog.Warn("skipping calendar event with invalid range", "event_id", item.Id, "error", err)
		return schedule.CalendarEvent{}, false
	}
	return schedule.CalendarEvent{ID: item.Id, Title: item.Summary, Range: r}, true
}

func (g *GoogleCalendar) CreateEvent(ctx context.Context, req schedule.MeetingRequest) (calendar.CreatedEvent, error) {
	title := req.Title
	if title == "" {
		title = untitledMeeting
	}
	tz := req.Range.Timezone()
	ev := &gcal.Event{
		Summary:   title,
		Location:  req.Location,
		Start:     &gcal.EventDateTime{DateTime: req.Range.Start().Format(time.RFC3339), TimeZone: tz},
		End:       &gcal.EventDateTime{DateTime: req.Range.End().Format(time.RFC3339), TimeZone: tz},
		Attendees: eventAttendees(req.Attendees),
	}

	created, err := g.service.Events.Insert(g.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return calendar.CreatedEvent{}, fmt.Errorf("insert calendar event: %w", err)
	}
	slog.Info("calendar event created", "calendar_id", g.calendarID, "event_id", created.Id)
	return calendar.CreatedEvent{ID: created.Id, Link: created.HtmlLink}, nil
}

func eventAttendees(in []string) []*gcal.EventAttendee {
	out := make([]*gcal.EventAttendee, 0, len(in))
	for _, a := range in {
		if !strings.Contains(a, "@") {
			slog.Warn("skipping invalid attendee entry", "attendee", a)
			continue
		}
		out = append(out, &gcal.EventAttendee{Email: a})
	}
	return out
}
