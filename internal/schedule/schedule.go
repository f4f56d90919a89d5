// Package schedule computes bookable slots for a provider from recurring
// availability windows, holiday-blocked dates and existing bookings. It is a
// pure read: all inputs are injected and nothing is mutated, so it is safe to
// call with arbitrary concurrency.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidRange    = errors.New("range end must be after range start")
	ErrInvalidDuration = errors.New("slot duration must be positive")
)

// Window is a recurring weekly availability block, times of day expressed as
// minutes from midnight in the provider's location.
type Window struct {
	Weekday time.Weekday
	Start   int
	End     int
	Buffer  time.Duration
}

// Interval is an occupied absolute time range ([Start, End)).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Slot is a computed candidate bookable interval. It has no identity and is
// never persisted.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Request carries everything Generate needs. Blocked holds holiday-suppressed
// dates keyed "2006-01-02" in Location.
type Request struct {
	Windows  []Window
	Blocked  map[string]struct{}
	Bookings []Interval
	From     time.Time
	To       time.Time
	Duration time.Duration
	Now      time.Time
	Location *time.Location
}

// segment is a window anchored to a concrete date.
type segment struct {
	start  time.Time
	end    time.Time
	buffer time.Duration
}

// span is a disjoint union of overlapping segments. The source segments are
// kept so the buffer of the window a candidate falls within applies to it.
type span struct {
	start time.Time
	end   time.Time
	segs  []segment
}

// Generate returns the free slots of exactly req.Duration inside the
// provider's effective availability over [req.From, req.To], in
// non-decreasing start order.
func Generate(req Request) ([]Slot, error) {
	if req.Duration <= 0 {
		return nil, ErrInvalidDuration
	}
	if !req.From.Before(req.To) {
		return nil, ErrInvalidRange
	}

	loc := req.Location
	if loc == nil {
		loc = time.Local
	}

	if len(req.Windows) == 0 {
		return []Slot{}, nil
	}

	byDay := map[time.Weekday][]Window{}
	for _, w := range req.Windows {
		if w.Start >= w.End {
			continue
		}
		byDay[w.Weekday] = append(byDay[w.Weekday], w)
	}

	slots := []Slot{}

	from := truncateToDate(req.From, loc)
	to := truncateToDate(req.To, loc)

	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if _, blocked := req.Blocked[DateKey(d)]; blocked {
			continue
		}

		windows, ok := byDay[d.Weekday()]
		if !ok {
			continue
		}

		segs := make([]segment, 0, len(windows))
		for _, w := range windows {
			segs = append(segs, segment{
				start:  anchor(d, w.Start, loc),
				end:    anchor(d, w.End, loc),
				buffer: w.Buffer,
			})
		}

		for _, sp := range merge(segs) {
			for cur := sp.start; !cur.Add(req.Duration).After(sp.end); cur = cur.Add(req.Duration) {
				slot := Slot{Start: cur, End: cur.Add(req.Duration)}

				if slot.Start.Before(req.Now) {
					continue
				}

				buf := sp.bufferAt(slot.Start)
				if conflicts(slot.Start.Add(-buf), slot.End.Add(buf), req.Bookings) {
					continue
				}

				slots = append(slots, slot)
			}
		}
	}

	return slots, nil
}

// Covers reports whether [start, end) lies entirely inside the union of the
// windows anchored to start's date, and returns the buffer applying at start.
// The commit path uses it to re-derive validity instead of trusting the
// caller's slot.
func Covers(windows []Window, start, end time.Time, loc *time.Location) (time.Duration, bool) {
	if loc == nil {
		loc = time.Local
	}

	d := truncateToDate(start, loc)

	segs := []segment{}
	for _, w := range windows {
		if w.Weekday != d.Weekday() || w.Start >= w.End {
			continue
		}
		segs = append(segs, segment{
			start:  anchor(d, w.Start, loc),
			end:    anchor(d, w.End, loc),
			buffer: w.Buffer,
		})
	}

	for _, sp := range merge(segs) {
		if !start.Before(sp.start) && !end.After(sp.end) {
			return sp.bufferAt(start), true
		}
	}

	return 0, false
}

// Day is a presentation grouping of slots sharing a calendar date.
type Day struct {
	Date  string
	Slots []Slot
}

// GroupByDate splits an ordered slot list by calendar date, preserving order.
func GroupByDate(slots []Slot, loc *time.Location) []Day {
	if loc == nil {
		loc = time.Local
	}

	var days []Day
	for _, s := range slots {
		key := DateKey(s.Start.In(loc))
		if len(days) == 0 || days[len(days)-1].Date != key {
			days = append(days, Day{Date: key})
		}
		days[len(days)-1].Slots = append(days[len(days)-1].Slots, s)
	}

	return days
}

// ParseTimeOfDay parses "15:04" into minutes from midnight.
func ParseTimeOfDay(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	return h*60 + m, nil
}

// DateKey formats a timestamp as its calendar date.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func truncateToDate(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func anchor(d time.Time, minutes int, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), minutes/60, minutes%60, 0, 0, loc)
}

// merge unions overlapping or touching segments into disjoint spans. Segments
// are sorted by start first, so spans come out chronological.
func merge(segs []segment) []span {
	if len(segs) == 0 {
		return nil
	}

	sorted := make([]segment, len(segs))
	copy(sorted, segs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start.Before(sorted[j].start) })

	spans := []span{{start: sorted[0].start, end: sorted[0].end, segs: []segment{sorted[0]}}}
	for _, seg := range sorted[1:] {
		last := &spans[len(spans)-1]
		if seg.start.After(last.end) {
			spans = append(spans, span{start: seg.start, end: seg.end, segs: []segment{seg}})
			continue
		}
		if seg.end.After(last.end) {
			last.end = seg.end
		}
		last.segs = append(last.segs, seg)
	}

	return spans
}

// bufferAt returns the buffer of the source window containing t. When t sits
// in several overlapping windows the earliest-starting one wins.
func (sp span) bufferAt(t time.Time) time.Duration {
	for _, seg := range sp.segs {
		if !t.Before(seg.start) && t.Before(seg.end) {
			return seg.buffer
		}
	}

	return sp.segs[0].buffer
}

func conflicts(start, end time.Time, bookings []Interval) bool {
	for _, b := range bookings {
		if start.Before(b.End) && end.After(b.Start) {
			return true
		}
	}

	return false
}
