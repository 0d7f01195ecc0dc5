// Package schedule defines the spaced-repetition capability boundary.
//
// The scheduling arithmetic itself lives outside this system; the bridge
// only consumes it as a stateless function when grading exercise answers.
package schedule

import "time"

// Review is the input to one scheduling decision: how an item was just
// answered and how it was scheduled before.
type Review struct {
	// Grade is the answer quality in [0, 1]; 1 is a perfect answer.
	Grade float64
	// Interval is the previous repetition interval.
	Interval time.Duration
	// Repetitions counts consecutive successful reviews.
	Repetitions int
}

// Next is the scheduling decision for an item.
type Next struct {
	Interval    time.Duration
	Repetitions int
	Due         time.Time
}

// Scheduler computes the next review of an item from the latest answer.
type Scheduler interface {
	Schedule(now time.Time, r Review) Next
}

// Func adapts a plain function to the Scheduler interface.
type Func func(now time.Time, r Review) Next

func (f Func) Schedule(now time.Time, r Review) Next {
	return f(now, r)
}

// Default is a minimal placeholder policy: a failed answer resets the item
// to a day, a passed answer doubles the interval. Deployments substitute a
// real scheduler through the Scheduler interface.
func Default() Scheduler {
	return Func(func(now time.Time, r Review) Next {
		interval := r.Interval
		reps := r.Repetitions

		if r.Grade < 0.6 {
			interval = 24 * time.Hour
			reps = 0
		} else {
			if interval < 24*time.Hour {
				interval = 24 * time.Hour
			} else {
				interval *= 2
			}
			reps++
		}

		return Next{
			Interval:    interval,
			Repetitions: reps,
			Due:         now.Add(interval),
		}
	})
}
