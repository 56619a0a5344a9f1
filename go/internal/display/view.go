package display

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mcdev12/showclock/go/internal/drift"
	"github.com/mcdev12/showclock/go/internal/models"
)

// View is what the surface shows at one instant.
type View struct {
	Connected bool
	State     models.TimerState
	ItemID    *int64
	Duration  time.Duration
	Elapsed   time.Duration
	Remaining time.Duration
	Overtime  time.Duration
	SubTimers []SubView
}

// SubView is one running or finished sub-timer.
type SubView struct {
	ItemID    int64
	Running   bool
	Remaining time.Duration
}

// View projects the current state. Monitored timers use the drift-corrected
// local count; everything else uses the last snapshot as-is.
func (s *Surface) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{Connected: s.connected, State: models.TimerStateIdle}
	if t := s.timer; t != nil {
		v.State = t.State
		v.ItemID = t.ItemID
		v.Duration = time.Duration(t.DurationSeconds) * time.Second
		v.Elapsed = seconds(t.ElapsedSeconds)
		if local, ok := s.detector.Elapsed(drift.Key{EventID: t.EventID}); ok {
			v.Elapsed = local
		}
		if v.Elapsed < v.Duration {
			v.Remaining = v.Duration - v.Elapsed
		} else {
			v.Overtime = v.Elapsed - v.Duration
		}
	}

	for id, sub := range s.subs {
		if !sub.IsActive {
			continue
		}
		sv := SubView{ItemID: id, Running: sub.IsRunning, Remaining: seconds(sub.RemainingSeconds)}
		if local, ok := s.detector.Elapsed(drift.Key{EventID: sub.EventID, ItemID: id}); ok {
			sv.Remaining = max(time.Duration(sub.DurationSeconds)*time.Second-local, 0)
		}
		v.SubTimers = append(v.SubTimers, sv)
	}
	sort.Slice(v.SubTimers, func(i, j int) bool { return v.SubTimers[i].ItemID < v.SubTimers[j].ItemID })
	return v
}

// String renders the view on one line.
func (v View) String() string {
	var b strings.Builder
	if v.Connected {
		b.WriteString("[live] ")
	} else {
		b.WriteString("[offline] ")
	}

	switch v.State {
	case models.TimerStateIdle:
		b.WriteString("no cue loaded")
	default:
		if v.ItemID != nil {
			fmt.Fprintf(&b, "item %d ", *v.ItemID)
		}
		b.WriteString(strings.ToLower(string(v.State)))
		if v.Overtime > 0 {
			fmt.Fprintf(&b, "  +%s over", clock(v.Overtime))
		} else {
			fmt.Fprintf(&b, "  %s left", clock(v.Remaining))
		}
	}

	for _, sub := range v.SubTimers {
		marker := ""
		if !sub.Running {
			marker = " (stopped)"
		}
		fmt.Fprintf(&b, "  | sub %d %s%s", sub.ItemID, clock(sub.Remaining), marker)
	}
	return b.String()
}

// clock renders d as HH:MM:SS, rounding partial seconds up so a countdown
// reads 00:00:00 only when it has actually run out.
func clock(d time.Duration) string {
	s := int64((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
