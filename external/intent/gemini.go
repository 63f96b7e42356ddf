package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/foxseedlab/voicecal/internal/intent"
)

const (
	intentScheduleMeeting = "schedule_meeting"
	intentListDay         = "get_meetings_day"
	intentOther           = "other"
	defaultGeminiModel    = "gemini-2.5-flash"
)

type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// GeminiExtractor asks Gemini for a JSON intent constrained by a response
// schema.
type GeminiExtractor struct {
	client *genai.Client
	model  string
}

var _ intent.Extractor = (*GeminiExtractor)(nil)

func NewGeminiExtractor(ctx context.Context, cfg GeminiConfig) (*GeminiExtractor, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiExtractor{client: client, model: cfg.Model}, nil
}

func (g *GeminiExtractor) Extract(ctx context.Context, text string, ic intent.Context) (intent.Result, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt(text, ic), genai.RoleUser),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    responseSchema,
			Temperature:       genai.Ptr[float32](0),
		})
	if err != nil {
		return intent.Result{}, fmt.Errorf("gemini generate: %w", err)
	}
	res, err := decodeResult(resp.Text())
	if err != nil {
		return intent.Result{}, err
	}
	slog.Debug("intent extracted", "intent", res.Kind.String(), "draft", res.Draft)
	return res, nil
}

var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"intent":           {Type: genai.TypeString, Enum: []string{intentScheduleMeeting, intentListDay, intentOther}},
		"title":            {Type: genai.TypeString},
		"date":             {Type: genai.TypeString, Description: "YYYY-MM-DD"},
		"time":             {Type: genai.TypeString, Description: "HH:MM in 24-hour clock"},
		"duration_minutes": {Type: genai.TypeInteger},
		"location":         {Type: genai.TypeString},
		"attendees":        {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"reply":            {Type: genai.TypeString, Description: "answer for anything that is not a booking"},
	},
	Required: []string{"intent"},
}

type extraction struct {
	Intent          string   `json:"intent"`
	Title           string   `json:"title"`
	Date            string   `json:"date"`
	Time            string   `json:"time"`
	DurationMinutes int      `json:"duration_minutes"`
	Location        string   `json:"location"`
	Attendees       []string `json:"attendees"`
	Reply           string   `json:"reply"`
}

func decodeResult(raw string) (intent.Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return intent.Result{}, errors.New("gemini returned an empty response")
	}
	// Some models wrap JSON in a fenced block even in JSON mode.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var e extraction
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return intent.Result{}, fmt.Errorf("decode gemini response: %w", err)
	}
	if e.Intent == intentListDay {
		return intent.Result{Kind: intent.ListDay, Draft: intent.Draft{Date: strings.TrimSpace(e.Date)}}, nil
	}
	if e.Intent != intentScheduleMeeting {
		return intent.Result{Kind: intent.Other, Reply: strings.TrimSpace(e.Reply)}, nil
	}
	return intent.Result{
		Kind: intent.Schedule,
		Draft: intent.Draft{
			Title:           strings.TrimSpace(e.Title),
			Date:            strings.TrimSpace(e.Date),
			Time:            strings.TrimSpace(e.Time),
			DurationMinutes: max(e.DurationMinutes, 0),
			Location:        strings.TrimSpace(e.Location),
			Attendees:       e.Attendees,
		},
	}, nil
}

func systemPrompt(text string, ic intent.Context) string {
	var history strings.Builder
	for _, turn := range ic.History {
		fmt.Fprintf(&history, "- User said: %q (interpreted intent: %s)\n", turn.Input, turn.Kind)
	}
	if history.Len() == 0 {
		history.WriteString("No previous conversation history.\n")
	}
	partial, _ := json.Marshal(ic.Partial)
	now := ic.Now

	return fmt.Sprintf(`You are a stateful voice assistant that books meetings.
Complete the meeting details through natural conversation.

# Context
- Current date: %s
- Current time: %s
- User timezone: %s

# Conversation history (most recent last)
%s
# Details gathered so far
%s

# Instructions
1. Analyze the latest input: %q.
2. It may answer an earlier question, correct a detail or add new information. Combine it with the details gathered so far.
3. If the user says "with John" and the title is empty, use "Meeting with John" as the title.
4. If the user corrects a detail (for example "no, make it 5 PM"), replace that detail.
5. Resolve relative dates such as "tomorrow" or "next Friday" against the current date in the user timezone.
6. Use intent "schedule_meeting" when the user wants to book or create a meeting and fill every field you know.
7. Use intent "get_meetings_day" when the user asks which meetings they have on a day. Put that day in "date", or leave it empty for today.
8. Use intent "other" for anything else, including cancelling or moving existing meetings, and put a short spoken answer in "reply".
`,
		now.Format("2006-01-02"), now.Format("15:04"), ic.Timezone,
		history.String(), string(partial), text)
}
