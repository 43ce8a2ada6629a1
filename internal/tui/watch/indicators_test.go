package watch

import (
	"strings"
	"testing"
	"time"
)

func TestTickerAdvancesAndWraps(t *testing.T) {
	tk := NewTicker()
	first := tk.Current()

	for range len(tk.frames) {
		tk.Tick()
	}
	if tk.Current() != first {
		t.Errorf("ticker did not wrap: %q vs %q", tk.Current(), first)
	}
}

func TestSpinnerDecays(t *testing.T) {
	var s Spinner
	s.OnEvent()
	if s.dots != spinnerDots {
		t.Fatalf("dots after event = %d, want %d", s.dots, spinnerDots)
	}

	// Backdate the event and let the meter fade.
	s.lastEvent = time.Now().Add(-3 * spinnerFade)
	s.Decay()
	if s.dots != spinnerDots-3 {
		t.Errorf("dots after 3 fade periods = %d, want %d", s.dots, spinnerDots-3)
	}

	s.lastEvent = time.Now().Add(-100 * spinnerFade)
	s.Decay()
	if s.dots != 0 {
		t.Errorf("dots after long silence = %d, want 0", s.dots)
	}

	// An empty meter stays empty.
	s.Decay()
	if s.dots != 0 {
		t.Errorf("dots = %d, want 0", s.dots)
	}

	rendered := s.Render(NewDefaultTheme())
	if strings.Contains(rendered, "●") {
		t.Errorf("faded meter still shows lit dots: %q", rendered)
	}
}

func TestHealthSummary(t *testing.T) {
	theme := NewDefaultTheme()

	cases := []struct {
		name   string
		health HealthState
		want   string
	}{
		{name: "disconnected", health: HealthState{}, want: "CONNECTING"},
		{name: "degraded", health: HealthState{Connected: true, Status: "draining"}, want: "DEGRADED"},
		{name: "healthy", health: HealthState{Connected: true, Status: "ok"}, want: "HEALTHY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, label := tc.health.summary(theme)
			if !strings.Contains(label, tc.want) {
				t.Errorf("summary label = %q, want %q", label, tc.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{2*time.Minute + 5*time.Second, "2m 5s"},
		{3*time.Hour + 7*time.Minute, "3h 7m"},
	}
	for _, tc := range cases {
		if got := formatDuration(tc.in); got != tc.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
