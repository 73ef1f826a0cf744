// Package validation is the single business-rule layer consumed by every
// mutating endpoint. Rules produce a tagged Outcome: rejections block the
// request with a 400, warnings ride along in the response payload without
// blocking.
package validation

import (
	"fmt"
	"time"

	"ctms-server/internal/compliance"
)

// Outcome collects the results of running business rules over a request.
type Outcome struct {
	Rejections []string `json:"rejections,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// OK reports whether the request may proceed.
func (o Outcome) OK() bool {
	return len(o.Rejections) == 0
}

// Reject records a blocking violation.
func (o *Outcome) Reject(format string, args ...interface{}) {
	o.Rejections = append(o.Rejections, fmt.Sprintf(format, args...))
}

// Warn records a non-blocking condition worth surfacing to the user.
func (o *Outcome) Warn(format string, args ...interface{}) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// Merge folds another outcome into this one.
func (o *Outcome) Merge(other Outcome) {
	o.Rejections = append(o.Rejections, other.Rejections...)
	o.Warnings = append(o.Warnings, other.Warnings...)
}

// Dispense checks a dispense request. priorOpenLastDose, when non-nil, is the
// last dose date of an earlier unreturned record for the same subject; a first
// dose overlapping it is suspicious but not blocking.
func Dispense(qtyDispensed, pillsPerDay int, firstDose, priorOpenLastDose *time.Time) Outcome {
	var o Outcome
	if qtyDispensed <= 0 {
		o.Reject("quantity dispensed must be positive, got %d", qtyDispensed)
	}
	if pillsPerDay < 1 {
		o.Reject("pills per day must be at least 1, got %d", pillsPerDay)
	}
	if firstDose != nil && priorOpenLastDose != nil && !firstDose.After(*priorOpenLastDose) {
		o.Warn("first dose %s overlaps a prior unreturned dispense ending %s",
			firstDose.Format("2006-01-02"), priorOpenLastDose.Format("2006-01-02"))
	}
	return o
}

// Return checks a return request against the record it closes out.
func Return(qtyDispensed, qtyReturned int, firstDose, lastDose *time.Time) Outcome {
	var o Outcome
	if qtyReturned < 0 {
		o.Reject("quantity returned cannot be negative, got %d", qtyReturned)
	}
	if qtyReturned > qtyDispensed {
		o.Reject("quantity returned (%d) exceeds quantity dispensed (%d)", qtyReturned, qtyDispensed)
	}
	o.Merge(DoseDates(firstDose, lastDose))
	return o
}

// DoseDates checks the ordering of the dosing period when both ends are
// recorded. Missing dates are not an error here; the calculator reports the
// record as not computable instead.
func DoseDates(firstDose, lastDose *time.Time) Outcome {
	var o Outcome
	if firstDose != nil && lastDose != nil && lastDose.Before(*firstDose) {
		o.Reject("date of last dose %s is before date of first dose %s",
			lastDose.Format("2006-01-02"), firstDose.Format("2006-01-02"))
	}
	return o
}

// ComplianceFlags maps calculator flags onto warnings so every endpoint
// reports them the same way.
func ComplianceFlags(res compliance.Result) Outcome {
	var o Outcome
	for _, f := range res.Flags {
		switch f {
		case compliance.FlagOverCompliance:
			o.Warn("compliance %.2f%% is above the over-compliance threshold", *res.Percentage)
		case compliance.FlagDataEntryError:
			o.Warn("compliance %.2f%% suggests a data-entry error; please verify dose dates and quantities", *res.Percentage)
		}
	}
	return o
}
