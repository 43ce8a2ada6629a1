package watch

import (
	"strings"
	"time"
)

// Ticker is the heartbeat glyph in the header. It only advances when a
// UI tick arrives, so a frozen frame means the update loop stalled.
type Ticker struct {
	frames   []string
	index    int
	lastTick time.Time
}

func NewTicker() Ticker {
	return Ticker{
		frames:   []string{"◐", "◓", "◑", "◒"},
		lastTick: time.Now(),
	}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
	t.lastTick = time.Now()
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// spinnerDots is the width of the activity meter; one dot fades every
// spinnerFade of silence.
const (
	spinnerDots = 5
	spinnerFade = 2 * time.Second
)

// Spinner is the event-activity meter: fully lit on an event, fading
// back to empty while the stream is quiet.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

func NewSpinner() Spinner {
	return Spinner{}
}

func (s *Spinner) OnEvent() {
	s.dots = spinnerDots
	s.lastEvent = time.Now()
}

// Decay recomputes the lit dots from the time since the last event.
func (s *Spinner) Decay() {
	if s.dots == 0 {
		return
	}
	faded := int(time.Since(s.lastEvent) / spinnerFade)
	s.dots = spinnerDots - faded
	if s.dots < 0 {
		s.dots = 0
	}
}

func (s Spinner) Render(theme Theme) string {
	var meter strings.Builder
	for i := range spinnerDots {
		if i < s.dots {
			meter.WriteString(theme.TickerActive.Render("●"))
		} else {
			meter.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return meter.String()
}

func (s Spinner) LastEvent() time.Time {
	return s.lastEvent
}
