package intent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxseedlab/voicecal/internal/intent"
)

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want intent.Result
	}{
		{
			name: "schedule",
			raw:  `{"intent":"schedule_meeting","title":" Team Sync ","date":"2025-08-09","time":"14:00","duration_minutes":30,"attendees":["a@example.com"]}`,
			want: intent.Result{Kind: intent.Schedule, Draft: intent.Draft{
				Title: "Team Sync", Date: "2025-08-09", Time: "14:00", DurationMinutes: 30, Attendees: []string{"a@example.com"},
			}},
		},
		{
			name: "fenced",
			raw:  "```json\n{\"intent\":\"schedule_meeting\",\"title\":\"Lunch\"}\n```",
			want: intent.Result{Kind: intent.Schedule, Draft: intent.Draft{Title: "Lunch"}},
		},
		{
			name: "other",
			raw:  `{"intent":"other","reply":"It is sunny."}`,
			want: intent.Result{Kind: intent.Other, Reply: "It is sunny."},
		},
		{
			name: "list day",
			raw:  `{"intent":"get_meetings_day","date":" 2025-08-09 ","title":"ignored"}`,
			want: intent.Result{Kind: intent.ListDay, Draft: intent.Draft{Date: "2025-08-09"}},
		},
		{
			name: "unknown intent is other",
			raw:  `{"intent":"cancel_meeting","title":"x"}`,
			want: intent.Result{Kind: intent.Other},
		},
		{
			name: "negative duration ignored",
			raw:  `{"intent":"schedule_meeting","duration_minutes":-5}`,
			want: intent.Result{Kind: intent.Schedule},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeResult(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeResult_Errors(t *testing.T) {
	_, err := decodeResult("  ")
	assert.ErrorContains(t, err, "empty")

	_, err = decodeResult("I think you want a meeting")
	assert.ErrorContains(t, err, "decode gemini response")
}

func TestSystemPrompt(t *testing.T) {
	p := systemPrompt("make it 5 PM", intent.Context{
		Timezone: "Asia/Tokyo",
		Now:      time.Date(2025, time.August, 8, 10, 30, 0, 0, time.UTC),
		Partial:  intent.Draft{Title: "Sync", Date: "2025-08-09"},
		History:  []intent.Turn{{Input: "book a sync tomorrow", Kind: intent.Schedule}},
	})

	assert.Contains(t, p, "Current date: 2025-08-08")
	assert.Contains(t, p, "User timezone: Asia/Tokyo")
	assert.Contains(t, p, `User said: "book a sync tomorrow" (interpreted intent: schedule_meeting)`)
	assert.Contains(t, p, `{"title":"Sync","date":"2025-08-09"}`)
	assert.Contains(t, p, `"make it 5 PM"`)

	empty := systemPrompt("hi", intent.Context{Timezone: "UTC"})
	assert.Contains(t, empty, "No previous conversation history.")
}

func TestGeminiExtractor_Extract(t *testing.T) {
	var request map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/test-model:generateContent"), r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &request))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"intent\":\"schedule_meeting\",\"title\":\"Planning\",\"date\":\"2025-08-09\",\"time\":\"14:00\"}"}]}}]}`)
	}))
	t.Cleanup(srv.Close)

	g, err := NewGeminiExtractor(context.Background(), GeminiConfig{APIKey: "key", Model: "test-model", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	res, err := g.Extract(context.Background(), "plan on saturday at 2", intent.Context{Timezone: "UTC", Now: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, intent.Schedule, res.Kind)
	assert.Equal(t, intent.Draft{Title: "Planning", Date: "2025-08-09", Time: "14:00"}, res.Draft)

	cfg, ok := request["generationConfig"].(map[string]any)
	require.True(t, ok, "request: %v", request)
	assert.Equal(t, "application/json", cfg["responseMimeType"])
	assert.NotNil(t, cfg["responseSchema"])
}

func TestGeminiExtractor_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"bad","status":"INVALID_ARGUMENT"}}`)
	}))
	t.Cleanup(srv.Close)

	g, err := NewGeminiExtractor(context.Background(), GeminiConfig{APIKey: "key", Model: "test-model", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	_, err = g.Extract(context.Background(), "hello", intent.Context{Timezone: "UTC"})
	assert.ErrorContains(t, err, "gemini generate")
}

func TestNewGeminiExtractor_RequiresKey(t *testing.T) {
	_, err := NewGeminiExtractor(context.Background(), GeminiConfig{})
	assert.Error(t, err)
}
