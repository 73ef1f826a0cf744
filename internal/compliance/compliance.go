// Package compliance holds the single implementation of the drug
// accountability arithmetic. Return-time persistence, administrative date
// corrections and the batch recalculation endpoint all call Calculate with
// the same inputs, so the derived values can never diverge between call
// sites.
package compliance

import (
	"math"
	"time"
)

// Flag marks a computed result for human review. Flagged results are stored
// as computed; they are never clamped or rejected.
type Flag string

const (
	// FlagOverCompliance: consumption above the warning threshold.
	// Over 100% is valid (over-consumption), it just warrants review.
	FlagOverCompliance Flag = "OVER_COMPLIANCE"
	// FlagDataEntryError: consumption so far above expectation that a
	// data-entry mistake is the likely cause.
	FlagDataEntryError Flag = "DATA_ENTRY_ERROR"
)

// Thresholds are the review cutoffs, in percent. They are product policy and
// come from configuration, not constants baked into the formula.
type Thresholds struct {
	WarnPct  float64
	ErrorPct float64
}

// DefaultThresholds returns the cutoffs used when no configuration is present.
func DefaultThresholds() Thresholds {
	return Thresholds{WarnPct: 120, ErrorPct: 200}
}

// Input is everything the calculation depends on. Nil dose dates mean the
// dates were never recorded, which is a distinct state from any value.
type Input struct {
	QtyDispensed int
	QtyReturned  int
	FirstDose    *time.Time
	LastDose     *time.Time
	PillsPerDay  int
}

// Result holds the derived accountability values.
//
// Computable is false when either dose date is missing: the system must
// distinguish "0% because the subject returned every pill" from "unknown
// because dates were never recorded". When Computable is false only PillsUsed
// is meaningful.
type Result struct {
	Computable    bool
	DaysUsed      int
	ExpectedPills int
	PillsUsed     int
	Percentage    *float64 // nil when not computable or expected is zero
	Flags         []Flag
}

// Calculate derives days-used, expected-pills, pills-used and the compliance
// percentage from an accountability record. It is a pure function of its
// inputs and performs no I/O.
func Calculate(in Input, th Thresholds) Result {
	res := Result{
		PillsUsed: in.QtyDispensed - in.QtyReturned,
	}

	if in.FirstDose == nil || in.LastDose == nil {
		return res
	}
	res.Computable = true

	pillsPerDay := in.PillsPerDay
	if pillsPerDay < 1 {
		pillsPerDay = 1
	}

	// Inclusive of both boundary days: first == last counts as one day.
	res.DaysUsed = daysBetween(*in.FirstDose, *in.LastDose) + 1

	theoretical := res.DaysUsed * pillsPerDay

	// Expected consumption can never exceed what was physically dispensed.
	// This cap is load-bearing; omitting it understates compliance for any
	// dosing period longer than the supply.
	res.ExpectedPills = theoretical
	if res.ExpectedPills > in.QtyDispensed {
		res.ExpectedPills = in.QtyDispensed
	}

	switch {
	case res.PillsUsed == 0:
		zero := 0.0
		res.Percentage = &zero
	case res.ExpectedPills > 0:
		pct := round2(float64(res.PillsUsed) / float64(res.ExpectedPills) * 100)
		res.Percentage = &pct
	}

	if res.Percentage != nil {
		switch {
		case *res.Percentage > th.ErrorPct:
			res.Flags = append(res.Flags, FlagDataEntryError)
		case *res.Percentage > th.WarnPct:
			res.Flags = append(res.Flags, FlagOverCompliance)
		}
	}

	return res
}

// daysBetween returns the whole calendar days from a to b, ignoring the
// time-of-day and timezone components so DST shifts cannot skew the count.
func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
