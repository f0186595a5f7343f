package calendar

import (
	"sort"
	"time"

	"github.com/yanun0323/logs"
)

// Frequency selects how handle-bar schedule points are generated.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyMinute Frequency = "minute"
	FrequencyTick   Frequency = "tick"
)

// BuildSchedule generates the per-day handle-bar points for the given
// frequency. Daily frequency uses the configured hook times as-is; minute and
// tick walk each session at the corresponding step.
func BuildSchedule(freq Frequency, handleBar []string, sessions []Session, tickInterval time.Duration) []string {
	if freq == FrequencyDaily {
		points := MergePoints(handleBar, nil)
		if len(points) > 1 {
			logs.Warnf("daily frequency with %d handle_bar points; verify the provider supplies intraday quotes", len(points))
		}
		return points
	}

	step := time.Minute
	if freq == FrequencyTick {
		if tickInterval <= 0 {
			tickInterval = 3 * time.Second
		}
		step = tickInterval
	}

	set := make(map[string]struct{})
	for _, s := range sessions {
		open, err := time.Parse(ClockLayout, s.Open)
		if err != nil {
			continue
		}
		end, err := time.Parse(ClockLayout, s.Close)
		if err != nil {
			continue
		}
		for cur := open; !cur.After(end); cur = cur.Add(step) {
			set[cur.Format(ClockLayout)] = struct{}{}
		}
	}
	points := make([]string, 0, len(set))
	for p := range set {
		points = append(points, p)
	}
	sort.Strings(points)
	return points
}

// ClampPoints drops points outside the declared sessions, warning per drop.
func ClampPoints(points []string, sessions []Session) []string {
	if len(sessions) == 0 {
		return points
	}
	kept := points[:0:0]
	for _, p := range points {
		inside := false
		for _, s := range sessions {
			if s.Open <= p && p <= s.Close {
				inside = true
				break
			}
		}
		if inside {
			kept = append(kept, p)
		} else {
			logs.Warnf("schedule point %s outside trading sessions, dropped", p)
		}
	}
	return kept
}
