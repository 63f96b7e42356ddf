package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/foxseedlab/voicecal/internal/repository"
	"github.com/foxseedlab/voicecal/internal/schedule"
	"github.com/foxseedlab/voicecal/internal/webhook"
)

const auditWriteTimeout = 5 * time.Second

// InteractionLog records session lifecycles and outcomes and notifies the
// booking webhook. Failures are logged and never reach the session.
type InteractionLog struct {
	repo    repository.Repository
	webhook webhook.Sender
	now     func() time.Time
}

func NewInteractionLog(repo repository.Repository, wh webhook.Sender) *InteractionLog {
	return &InteractionLog{repo: repo, webhook: wh, now: time.Now}
}

func (l *InteractionLog) SessionOpened(ctx context.Context, v View) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if _, err := l.repo.CreateSession(ctx, repository.CreateSessionInput{
		SessionID: v.ID,
		Transport: v.Transport,
		Timezone:  v.Timezone,
		StartedAt: v.OpenedAt,
	}); err != nil {
		slog.Error("failed to record session start", "error", err, "session_id", v.ID)
	}
}

func (l *InteractionLog) OutcomeEmitted(ctx context.Context, v View, o Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	payload, err := json.Marshal(OutcomeData(o))
	if err != nil {
		slog.Error("failed to encode outcome payload", "error", err, "session_id", v.ID)
		payload = nil
	}
	if err := l.repo.InsertOutcome(ctx, repository.InsertOutcomeInput{
		SessionID:   v.ID,
		Kind:        string(o.Kind()),
		State:       v.State.String(),
		Message:     Render(o),
		PayloadJSON: payload,
		RecordedAt:  l.now(),
	}); err != nil {
		slog.Error("failed to record outcome", "error", err, "session_id", v.ID, "kind", string(o.Kind()))
	}

	scheduled, ok := o.(Scheduled)
	if !ok || l.webhook == nil {
		return
	}
	if err := l.webhook.SendBooking(ctx, bookingPayload(v.ID, scheduled)); err != nil {
		slog.Error("failed to send booking webhook", "error", err, "session_id", v.ID, "event_id", scheduled.EventID)
	}
}

func (l *InteractionLog) SessionClosed(ctx context.Context, v View, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := l.repo.UpdateSessionCompleted(ctx, repository.CompleteSessionInput{
		SessionID:  v.ID,
		EndedAt:    l.now(),
		StopReason: reason,
	}); err != nil {
		slog.Error("failed to record session end", "error", err, "session_id", v.ID)
	}
}

func bookingPayload(sessionID string, s Scheduled) webhook.BookingPayload {
	r := s.Request.Range
	return webhook.BookingPayload{
		SessionID: sessionID,
		EventID:   s.EventID,
		Title:     s.Request.Title,
		Start:     r.Start(),
		End:       r.End(),
		Timezone:  r.Timezone(),
		Attendees: append([]string{}, s.Request.Attendees...),
		Location:  s.Request.Location,
		Link:      s.Link,
	}
}

// SlotData is the wire shape of a time range.
type SlotData struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone"`
}

type SuggestionData struct {
	Option      int      `json:"option"`
	Slot        SlotData `json:"slot"`
	Description string   `json:"description"`
	Strategy    string   `json:"strategy"`
}

type RequestData struct {
	Title     string   `json:"title"`
	Slot      SlotData `json:"slot"`
	Location  string   `json:"location,omitempty"`
	Attendees []string `json:"attendees,omitempty"`
}

type EventData struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Slot  SlotData `json:"slot"`
}

func slotData(r schedule.TimeRange) SlotData {
	return SlotData{Start: r.Start(), End: r.End(), Timezone: r.Timezone()}
}

func requestData(m schedule.MeetingRequest) RequestData {
	return RequestData{Title: m.Title, Slot: slotData(m.Range), Location: m.Location, Attendees: m.Attendees}
}

// OutcomeData is the JSON-friendly form of an outcome, shared by the
// interaction log and the transports.
func OutcomeData(o Outcome) map[string]any {
	switch v := o.(type) {
	case Scheduled:
		return map[string]any{
			"request":     requestData(v.Request),
			"event_id":    v.EventID,
			"link":        v.Link,
			"from_option": v.FromOption,
		}
	case ConflictOffered:
		suggestions := make([]SuggestionData, 0, len(v.Suggestions))
		for _, s := range v.Suggestions {
			suggestions = append(suggestions, SuggestionData{
				Option:      s.Option,
				Slot:        slotData(s.Range),
				Description: s.Description,
				Strategy:    s.Strategy.String(),
			})
		}
		return map[string]any{
			"original":    requestData(v.Original),
			"suggestions": suggestions,
			"reprompt":    v.Reprompt,
			"regenerated": v.Regenerated,
		}
	case NoAlternatives:
		return map[string]any{"original": requestData(v.Original)}
	case ClarificationNeeded:
		return map[string]any{"missing": v.Missing}
	case Reply:
		return map[string]any{"text": v.Text}
	case DayAgenda:
		events := make([]EventData, 0, len(v.Events))
		for _, ev := range v.Events {
			events = append(events, EventData{ID: ev.ID, Title: ev.Title, Slot: slotData(ev.Range)})
		}
		return map[string]any{"day": slotData(v.Day), "events": events}
	case Error:
		return map[string]any{"kind": string(v.Code), "reason": v.Reason}
	default:
		return map[string]any{}
	}
}
