package queue

import (
	"fmt"
	"sort"
	"time"
)

// RanksAhead reports whether a is served before b: higher priority first,
// then earlier issue time. Equal score and time fall back to the lower ID so
// the order is total.
func RanksAhead(a, b *Ticket) bool {
	if a.PriorityScore != b.PriorityScore {
		return a.PriorityScore > b.PriorityScore
	}
	if !a.IssuedTime.Equal(b.IssuedTime) {
		return a.IssuedTime.Before(b.IssuedTime)
	}
	return a.ID < b.ID
}

// SortByRank orders tickets in service order.
func SortByRank(tickets []*Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		return RanksAhead(tickets[i], tickets[j])
	})
}

// competes reports whether c holds a place in t's waiting line.
func competes(c, t *Ticket) bool {
	return c.ID != t.ID &&
		c.DepartmentID == t.DepartmentID &&
		c.Status == StatusWaiting &&
		!c.IsSkipped
}

// Position counts the other waiting, non-skipped tickets of t's department
// among candidates that rank ahead of t.
func Position(t *Ticket, candidates []*Ticket) int {
	n := 0
	for _, c := range candidates {
		if competes(c, t) && RanksAhead(c, t) {
			n++
		}
	}
	return n
}

// EstimatedWait gives a rough range assuming 5 to 7 minutes per patient,
// counting the patient's own turn.
func EstimatedWait(position int) string {
	if position < 0 {
		position = 0
	}
	n := position + 1
	return fmt.Sprintf("%d-%d min", n*5, n*7)
}

// DisplayTime renders t as HH:MM in loc.
func DisplayTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("15:04")
}

// ServiceDay returns midnight of the day containing t in loc.
func ServiceDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// CurrentlyServed picks the ticket number most recently moved to called
// among tickets, or fallback when none is called.
func CurrentlyServed(tickets []*Ticket, departmentID int64, fallback string) string {
	var latest *Ticket
	for _, t := range tickets {
		if t.DepartmentID != departmentID || t.Status != StatusCalled || t.CalledTime == nil {
			continue
		}
		if latest == nil || t.CalledTime.After(*latest.CalledTime) {
			latest = t
		}
	}
	if latest == nil {
		return fallback
	}
	return latest.Number
}
