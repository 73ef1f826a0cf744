// Package visitplan materializes the protocol visit schedule for a subject.
// It runs once at enrollment and, for the early-termination visit, once more
// when a subject's status becomes Terminated.
package visitplan

import (
	"time"

	"ctms-server/internal/models"
)

// Build returns one SubjectVisit per applicable visit definition, with the
// expected date computed from the enrollment date plus the protocol offset.
//
// Sequences 0 and 1 are enrollment-time visits and are created Completed with
// the enrollment date as their actual date. The early-termination visit
// (sequence 99) is never scheduled here. For a subject already Terminated,
// visits beyond sequence 3 are not scheduled.
func Build(subjectID string, enrollment time.Time, status models.SubjectStatus, defs []models.Visit) []models.SubjectVisit {
	var visits []models.SubjectVisit
	for _, def := range defs {
		if def.Sequence == models.EarlyTerminationSequence {
			continue
		}
		if status == models.SubjectTerminated && def.Sequence > models.TerminatedScheduleCutoff {
			continue
		}

		sv := models.SubjectVisit{
			SubjectID:    subjectID,
			VisitID:      def.ID,
			ExpectedDate: enrollment.AddDate(0, 0, def.DayOffset),
			Status:       models.VisitScheduled,
		}
		if def.Sequence <= models.EnrollmentSequenceMax {
			actual := enrollment
			sv.ActualDate = &actual
			sv.Status = models.VisitCompleted
		}
		visits = append(visits, sv)
	}
	return visits
}

// EarlyTermination returns the completed sequence-99 visit for a subject
// terminating on the given date, or nil when the protocol defines none.
func EarlyTermination(subjectID string, termination time.Time, defs []models.Visit) *models.SubjectVisit {
	for _, def := range defs {
		if def.Sequence != models.EarlyTerminationSequence {
			continue
		}
		actual := termination
		return &models.SubjectVisit{
			SubjectID:    subjectID,
			VisitID:      def.ID,
			ExpectedDate: termination,
			ActualDate:   &actual,
			Status:       models.VisitCompleted,
		}
	}
	return nil
}
