package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestGenerator(now time.Time) *Generator {
	cfg := DefaultGeneratorConfig()
	cfg.Now = fixedClock(now)
	return NewGenerator(NewDetector(DefaultBufferMinutes), cfg)
}

func busyAfternoon(t *testing.T) []CalendarEvent {
	return []CalendarEvent{
		event("design review", span(t, 14, 0, 15, 0)),
		event("1:1", span(t, 15, 30, 16, 30)),
	}
}

func TestSuggest_NextAvailableFindsFirstGapAfterBuffers(t *testing.T) {
	gen := newTestGenerator(at(0, 0).AddDate(0, 0, -14))

	got, err := gen.Suggest(SuggestRequest{
		Snapshot:     busyAfternoon(t),
		DesiredStart: at(14, 0),
		Duration:     time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, 1, got[0].Option)
	assert.Equal(t, NextAvailable, got[0].Strategy)
	assert.True(t, got[0].Range.Equal(span(t, 16, 45, 17, 45)), "got %s", got[0].Range)

	assert.Equal(t, 2, got[1].Option)
	assert.Equal(t, EarlierSameDay, got[1].Strategy)
	assert.True(t, got[1].Range.Equal(span(t, 9, 0, 10, 0)), "got %s", got[1].Range)

	assert.Equal(t, 3, got[2].Option)
	assert.Equal(t, NextDaySameTime, got[2].Strategy)
	assert.True(t, got[2].Range.Start().Equal(at(14, 0).AddDate(0, 0, 1)))
	assert.Equal(t, "Same time tomorrow", got[2].Description)
}

func TestSuggest_ReturnsFewerThanRequestedWithoutError(t *testing.T) {
	gen := newTestGenerator(at(0, 0).AddDate(0, 0, -14))

	got, err := gen.Suggest(SuggestRequest{
		Snapshot:     busyAfternoon(t),
		DesiredStart: at(14, 0),
		Duration:     time.Hour,
		Count:        5,
	})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, CommonMeetingTime, got[3].Strategy)
	assert.True(t, got[3].Range.Equal(span(t, 10, 0, 11, 0)))
	assert.Equal(t, "Popular meeting time (10:00 AM)", got[3].Description)
}

func TestSuggest_CountIsCappedAtMaxSuggestions(t *testing.T) {
	gen := newTestGenerator(at(0, 0).AddDate(0, 0, -14))

	got, err := gen.Suggest(SuggestRequest{
		DesiredStart: at(13, 0),
		Duration:     30 * time.Minute,
		Count:        50,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), DefaultMaxSuggestions)
}

func TestSuggest_EverySuggestionIsConflictFree(t *testing.T) {
	snapshot := []CalendarEvent{
		event("a", span(t, 9, 0, 9, 30)),
		event("b", span(t, 10, 0, 12, 0)),
		event("c", span(t, 13, 0, 15, 0)),
		event("d", span(t, 16, 0, 17, 0)),
		event("tomorrow", MustTimeRange(at(13, 30).AddDate(0, 0, 1), at(15, 0).AddDate(0, 0, 1), "UTC")),
	}
	gen := newTestGenerator(at(0, 0).AddDate(0, 0, -1))

	got, err := gen.Suggest(SuggestRequest{
		Snapshot:     snapshot,
		DesiredStart: at(14, 0),
		Duration:     45 * time.Minute,
		Count:        5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for i, s := range got {
		assert.Equal(t, i+1, s.Option)
		conflict, err := HasConflict(s.Range, snapshot, DefaultBufferMinutes)
		require.NoError(t, err)
		assert.Falsef(t, conflict, "suggestion %d (%s) conflicts", s.Option, s.Range)
	}
}

func TestSuggest_IsDeterministic(t *testing.T) {
	gen := newTestGenerator(at(0, 0).AddDate(0, 0, -14))
	req := SuggestRequest{
		Snapshot:     busyAfternoon(t),
		DesiredStart: at(14, 0),
		Duration:     time.Hour,
		Count:        5,
	}

	first, err := gen.Suggest(req)
	require.NoError(t, err)
	second, err := gen.Suggest(req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSuggest_ExcludeSkipsPreviouslyOfferedRanges(t *testing.T) {
	gen := newTestGenerator(at(0, 0).AddDate(0, 0, -14))
	req := SuggestRequest{
		Snapshot:     busyAfternoon(t),
		DesiredStart: at(14, 0),
		Duration:     time.Hour,
	}
	first, err := gen.Suggest(req)
	require.NoError(t, err)

	for _, s := range first {
		req.Exclude = append(req.Exclude, s.Range)
	}
	second, err := gen.Suggest(req)
	require.NoError(t, err)
	require.Len(t, second, 3)

	assert.Equal(t, 1, second[0].Option)
	assert.True(t, second[0].Range.Equal(span(t, 17, 0, 18, 0)), "got %s", second[0].Range)
	assert.True(t, second[1].Range.Equal(span(t, 9, 15, 10, 15)), "got %s", second[1].Range)
	assert.Equal(t, CommonMeetingTime, second[2].Strategy)
	for _, s := range second {
		for _, old := range first {
			assert.False(t, s.Range.Equal(old.Range))
		}
	}
}

func TestSuggest_SkipsCandidatesInThePast(t *testing.T) {
	gen := newTestGenerator(at(12, 0))

	got, err := gen.Suggest(SuggestRequest{
		Snapshot:     busyAfternoon(t),
		DesiredStart: at(14, 0),
		Duration:     time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, EarlierSameDay, got[1].Strategy)
	assert.True(t, got[1].Range.Equal(span(t, 12, 0, 13, 0)), "got %s", got[1].Range)
}

func TestSuggest_FullyBookedReturnsEmpty(t *testing.T) {
	gen := newTestGenerator(at(0, 0).AddDate(0, 0, -14))
	snapshot := []CalendarEvent{
		event("offsite", MustTimeRange(at(0, 0), at(0, 0).AddDate(0, 0, 2), "UTC")),
	}

	got, err := gen.Suggest(SuggestRequest{
		Snapshot:     snapshot,
		DesiredStart: at(14, 0),
		Duration:     time.Hour,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSuggest_RejectsNonPositiveDuration(t *testing.T) {
	gen := newTestGenerator(at(0, 0))
	_, err := gen.Suggest(SuggestRequest{DesiredStart: at(14, 0)})
	require.ErrorIs(t, err, ErrInputContractViolation)
}

func TestSuggest_NextDayKeepsWallClockAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	desired := time.Date(2024, time.November, 2, 14, 0, 0, 0, ny)
	cfg := DefaultGeneratorConfig()
	cfg.Now = fixedClock(desired.AddDate(0, 0, -7))
	gen := NewGenerator(NewDetector(15), cfg)

	blocker := MustTimeRange(time.Date(2024, time.November, 2, 0, 0, 0, 0, ny), time.Date(2024, time.November, 3, 0, 0, 0, 0, ny), "America/New_York")
	got, err := gen.Suggest(SuggestRequest{
		Snapshot:     []CalendarEvent{event("all day", blocker)},
		DesiredStart: desired,
		Duration:     time.Hour,
		Timezone:     "America/New_York",
		Count:        1,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, NextDaySameTime, got[0].Strategy)
	assert.Equal(t, 14, got[0].Range.Start().Hour())
	assert.Equal(t, 3, got[0].Range.Start().Day())
}
