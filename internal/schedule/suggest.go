package schedule

import (
	"fmt"
	"iter"
	"time"
)

const (
	DefaultSuggestionCount = 3
	DefaultMaxSuggestions  = 5
	DefaultStep            = 15 * time.Minute
	DefaultDayStartHour    = 9
	DefaultDayEndHour      = 24
)

var DefaultCommonHours = []int{10, 14, 16}

type GeneratorConfig struct {
	// Step is the scan granularity for NextAvailable and EarlierSameDay.
	Step time.Duration
	// DayStartHour bounds EarlierSameDay from below.
	DayStartHour int
	// DayEndHour bounds NextAvailable from above; 24 means midnight.
	DayEndHour int
	// CommonHours is scanned in list order for CommonMeetingTime.
	CommonHours []int
	// MaxSuggestions caps any requested count.
	MaxSuggestions int
	// Now filters out candidates in the past. Nil disables the filter.
	Now func() time.Time
}

func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Step:           DefaultStep,
		DayStartHour:   DefaultDayStartHour,
		DayEndHour:     DefaultDayEndHour,
		CommonHours:    append([]int(nil), DefaultCommonHours...),
		MaxSuggestions: DefaultMaxSuggestions,
		Now:            time.Now,
	}
}

// Generator proposes alternative slots with four strategies in fixed order.
type Generator struct {
	detector *Detector
	cfg      GeneratorConfig
}

func NewGenerator(detector *Detector, cfg GeneratorConfig) *Generator {
	if cfg.Step <= 0 {
		cfg.Step = DefaultStep
	}
	if cfg.DayStartHour < 0 || cfg.DayStartHour > 23 {
		cfg.DayStartHour = DefaultDayStartHour
	}
	if cfg.DayEndHour <= cfg.DayStartHour || cfg.DayEndHour > 24 {
		cfg.DayEndHour = DefaultDayEndHour
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = DefaultMaxSuggestions
	}
	if cfg.CommonHours == nil {
		cfg.CommonHours = append([]int(nil), DefaultCommonHours...)
	}
	return &Generator{detector: detector, cfg: cfg}
}

func (g *Generator) Detector() *Detector {
	return g.detector
}

type SuggestRequest struct {
	Snapshot     []CalendarEvent
	DesiredStart time.Time
	Duration     time.Duration
	// Timezone labels the produced ranges; empty uses DesiredStart's location.
	Timezone string
	// Count defaults to DefaultSuggestionCount and is capped at MaxSuggestions.
	Count int
	// Exclude drops candidates equal to a previously offered range.
	Exclude []TimeRange
}

// Suggest runs the strategies in priority order and returns conflict-free
// suggestions numbered from 1. Fewer than Count results, including none, is
// not an error.
func (g *Generator) Suggest(req SuggestRequest) ([]Suggestion, error) {
	if req.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive, got %s", ErrInputContractViolation, req.Duration)
	}
	if req.DesiredStart.IsZero() {
		return nil, fmt.Errorf("%w: desired start is required", ErrInputContractViolation)
	}
	loc := req.DesiredStart.Location()
	tz := req.Timezone
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown timezone %q", ErrInputContractViolation, tz)
		}
		loc = l
	} else {
		tz = loc.String()
	}
	for _, ev := range req.Snapshot {
		if err := ev.Range.Validate(); err != nil {
			return nil, fmt.Errorf("event %q: %w", ev.ID, err)
		}
	}

	count := req.Count
	if count <= 0 {
		count = DefaultSuggestionCount
	}
	if count > g.cfg.MaxSuggestions {
		count = g.cfg.MaxSuggestions
	}

	p := &pass{
		gen:      g,
		req:      req,
		loc:      loc,
		tz:       tz,
		desired:  req.DesiredStart.In(loc),
		accepted: make([]Suggestion, 0, count),
	}
	if g.cfg.Now != nil {
		p.now = g.cfg.Now()
	}

	strategies := []struct {
		strategy   Strategy
		limit      int
		candidates func() iter.Seq[time.Time]
	}{
		{NextAvailable, 1, p.nextAvailable},
		{EarlierSameDay, 1, p.earlierSameDay},
		{NextDaySameTime, 1, p.nextDaySameTime},
		{CommonMeetingTime, count, p.commonTimes},
	}
	for _, s := range strategies {
		if len(p.accepted) >= count {
			break
		}
		taken := 0
		for start := range s.candidates() {
			if len(p.accepted) >= count || taken >= s.limit {
				break
			}
			if p.accept(start, s.strategy) {
				taken++
			}
		}
	}
	return p.accepted, nil
}

type pass struct {
	gen      *Generator
	req      SuggestRequest
	loc      *time.Location
	tz       string
	desired  time.Time
	now      time.Time
	accepted []Suggestion
}

func (p *pass) dayAt(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, p.loc)
}

func (p *pass) nextAvailable() iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		dayEnd := p.dayAt(p.desired, p.gen.cfg.DayEndHour)
		for t := p.desired; !t.Add(p.req.Duration).After(dayEnd); t = t.Add(p.gen.cfg.Step) {
			if !yield(t) {
				return
			}
		}
	}
}

func (p *pass) earlierSameDay() iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		dayStart := p.dayAt(p.desired, p.gen.cfg.DayStartHour)
		if !dayStart.Before(p.desired) {
			return
		}
		for t := dayStart; !t.Add(p.req.Duration).After(p.desired); t = t.Add(p.gen.cfg.Step) {
			if !yield(t) {
				return
			}
		}
	}
}

func (p *pass) nextDaySameTime() iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		yield(p.desired.AddDate(0, 0, 1))
	}
}

func (p *pass) commonTimes() iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		for _, h := range p.gen.cfg.CommonHours {
			if h < 0 || h > 23 {
				continue
			}
			t := p.dayAt(p.desired, h)
			if t.Equal(p.desired) {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}
}

func (p *pass) accept(start time.Time, strategy Strategy) bool {
	if !p.now.IsZero() && start.Before(p.now) {
		return false
	}
	candidate := TimeRange{start: start, end: start.Add(p.req.Duration), timezone: p.tz}
	for _, s := range p.accepted {
		if s.Range.Equal(candidate) {
			return false
		}
	}
	for _, ex := range p.req.Exclude {
		if ex.Equal(candidate) {
			return false
		}
	}
	if p.gen.detector.conflicts(candidate, p.req.Snapshot) {
		return false
	}
	p.accepted = append(p.accepted, Suggestion{
		Option:      len(p.accepted) + 1,
		Range:       candidate,
		Description: describe(strategy, start),
		Strategy:    strategy,
	})
	return true
}

func describe(strategy Strategy, start time.Time) string {
	switch strategy {
	case NextAvailable:
		return "Next available time slot"
	case EarlierSameDay:
		return "Earlier the same day"
	case NextDaySameTime:
		return "Same time tomorrow"
	case CommonMeetingTime:
		return fmt.Sprintf("Popular meeting time (%s)", start.Format("03:04 PM"))
	default:
		return strategy.String()
	}
}
