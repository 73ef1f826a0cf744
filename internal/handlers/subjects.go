package handlers

import (
	"ctms-server/internal/audit"
	"ctms-server/internal/middleware"
	"ctms-server/internal/models"
	"ctms-server/internal/utils"
	"ctms-server/internal/visitplan"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubjectHandler handles trial subject requests.
type SubjectHandler struct {
	DB  *gorm.DB
	Log *zap.Logger
}

// NewSubjectHandler creates a new SubjectHandler.
func NewSubjectHandler(db *gorm.DB, log *zap.Logger) *SubjectHandler {
	return &SubjectHandler{DB: db, Log: log}
}

// GetSubjects handles fetching subjects, scoped to the caller's site for
// non-admin roles.
func (h *SubjectHandler) GetSubjects(c *gin.Context) {
	q := middleware.SiteScope(c, h.DB.Model(&models.Subject{}), "subjects.site_id")
	if status := c.Query("status"); status != "" {
		q = q.Where("subjects.status = ?", status)
	}
	if siteID := c.Query("siteId"); siteID != "" {
		q = q.Where("subjects.site_id = ?", siteID)
	}

	var subjects []models.Subject
	if err := q.Order("subject_number").Find(&subjects).Error; err != nil {
		internalError(c, h.Log, "subject listing failed", err)
		return
	}
	utils.Success(c, "Subjects fetched successfully", subjects)
}

// GetSubjectByID handles fetching a single subject.
func (h *SubjectHandler) GetSubjectByID(c *gin.Context) {
	var subject models.Subject
	if err := h.DB.First(&subject, "id = ?", c.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "Subject not found")
		} else {
			internalError(c, h.Log, "subject lookup failed", err)
		}
		return
	}
	if !middleware.CanAccessSite(c, subject.SiteID) {
		utils.Forbidden(c, "Subject belongs to another site")
		return
	}
	utils.Success(c, "Subject fetched successfully", subject)
}

// CreateSubjectRequest represents the request body for enrolling a subject.
type CreateSubjectRequest struct {
	SubjectNumber  string `json:"subjectNumber" binding:"required"`
	SiteID         string `json:"siteId" binding:"required,uuid"`
	DateOfBirth    string `json:"dateOfBirth"`
	Sex            string `json:"sex" binding:"omitempty,oneof=M F"`
	ConsentDate    string `json:"consentDate"`
	EnrollmentDate string `json:"enrollmentDate" binding:"required"`
}

// CreateSubject enrolls a subject: the subject row and its full visit
// schedule are created in one transaction.
func (h *SubjectHandler) CreateSubject(c *gin.Context) {
	var req CreateSubjectRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	if !middleware.CanAccessSite(c, req.SiteID) {
		utils.Forbidden(c, "Cannot enroll subjects at another site")
		return
	}

	var site models.Site
	if err := h.DB.First(&site, "id = ?", req.SiteID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "Site not found")
		} else {
			internalError(c, h.Log, "site lookup failed", err)
		}
		return
	}

	enrollment, err := parseDate(req.EnrollmentDate)
	if err != nil || enrollment == nil {
		utils.BadRequest(c, "Invalid enrollment date, expected yyyy-mm-dd")
		return
	}
	dob, err := parseDate(req.DateOfBirth)
	if err != nil {
		utils.BadRequest(c, "Invalid date of birth, expected yyyy-mm-dd")
		return
	}
	consent, err := parseDate(req.ConsentDate)
	if err != nil {
		utils.BadRequest(c, "Invalid consent date, expected yyyy-mm-dd")
		return
	}

	var existing models.Subject
	if err := h.DB.Where("subject_number = ?", req.SubjectNumber).First(&existing).Error; err == nil {
		utils.BadRequest(c, "Subject number already enrolled")
		return
	} else if err != gorm.ErrRecordNotFound {
		internalError(c, h.Log, "subject uniqueness check failed", err)
		return
	}

	var defs []models.Visit
	if err := h.DB.Order("sequence").Find(&defs).Error; err != nil {
		internalError(c, h.Log, "visit definition lookup failed", err)
		return
	}

	subject := models.Subject{
		SubjectNumber:  req.SubjectNumber,
		SiteID:         req.SiteID,
		DateOfBirth:    dob,
		Sex:            req.Sex,
		Status:         models.SubjectActive,
		ConsentDate:    consent,
		EnrollmentDate: *enrollment,
	}

	actorID, actorName := actor(c, h.DB)
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&subject).Error; err != nil {
			return err
		}
		visits := visitplan.Build(subject.ID, subject.EnrollmentDate, subject.Status, defs)
		if len(visits) > 0 {
			if err := tx.Create(&visits).Error; err != nil {
				return err
			}
		}
		return audit.Record(tx, audit.Entry{
			ActorID:   actorID,
			ActorName: actorName,
			Action:    models.AuditCreate,
			Table:     "subjects",
			RecordID:  subject.ID,
			New:       subject,
		})
	})
	if err != nil {
		internalError(c, h.Log, "subject enrollment failed", err)
		return
	}

	utils.Created(c, "Subject enrolled successfully", subject)
}

// UpdateSubjectRequest represents the request body for updating a subject.
// Date corrections require a reason; the reason is stored on the audit entry.
type UpdateSubjectRequest struct {
	Status          string `json:"status,omitempty"`
	TerminationDate string `json:"terminationDate,omitempty"`
	ConsentDate     string `json:"consentDate,omitempty"`
	EnrollmentDate  string `json:"enrollmentDate,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// UpdateSubject handles status transitions and administrative date
// corrections. Status moves only forward: Active -> Completed or Terminated.
// Terminating a subject materializes the early-termination visit.
func (h *SubjectHandler) UpdateSubject(c *gin.Context) {
	var req UpdateSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	var subject models.Subject
	if err := h.DB.First(&subject, "id = ?", c.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "Subject not found")
		} else {
			internalError(c, h.Log, "subject lookup failed", err)
		}
		return
	}
	if !middleware.CanAccessSite(c, subject.SiteID) {
		utils.Forbidden(c, "Subject belongs to another site")
		return
	}
	before := subject

	terminating := false
	if req.Status != "" && models.SubjectStatus(req.Status) != subject.Status {
		to := models.SubjectStatus(req.Status)
		if !subject.Status.CanTransition(to) {
			utils.Conflict(c, "Illegal status transition from "+string(subject.Status)+" to "+req.Status)
			return
		}
		subject.Status = to
		terminating = to == models.SubjectTerminated
	}

	if terminating {
		termination, err := parseDate(req.TerminationDate)
		if err != nil || termination == nil {
			utils.BadRequest(c, "Termination requires a termination date, expected yyyy-mm-dd")
			return
		}
		subject.TerminationDate = termination
	}

	// Administrative date corrections must be separately justified.
	if req.ConsentDate != "" || req.EnrollmentDate != "" {
		if req.Reason == "" {
			utils.BadRequest(c, "Date corrections require a reason for change")
			return
		}
		if req.ConsentDate != "" {
			consent, err := parseDate(req.ConsentDate)
			if err != nil {
				utils.BadRequest(c, "Invalid consent date, expected yyyy-mm-dd")
				return
			}
			subject.ConsentDate = consent
		}
		if req.EnrollmentDate != "" {
			enrollment, err := parseDate(req.EnrollmentDate)
			if err != nil {
				utils.BadRequest(c, "Invalid enrollment date, expected yyyy-mm-dd")
				return
			}
			subject.EnrollmentDate = *enrollment
		}
	}

	actorID, actorName := actor(c, h.DB)
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&subject).Error; err != nil {
			return err
		}
		if terminating {
			var defs []models.Visit
			if err := tx.Find(&defs).Error; err != nil {
				return err
			}
			if et := visitplan.EarlyTermination(subject.ID, *subject.TerminationDate, defs); et != nil {
				var count int64
				tx.Model(&models.SubjectVisit{}).
					Where("subject_id = ? AND visit_id = ?", subject.ID, et.VisitID).
					Count(&count)
				if count == 0 {
					if err := tx.Create(et).Error; err != nil {
						return err
					}
				}
			}
		}
		return audit.Record(tx, audit.Entry{
			ActorID:   actorID,
			ActorName: actorName,
			Action:    models.AuditUpdate,
			Table:     "subjects",
			RecordID:  subject.ID,
			Old:       before,
			New:       subject,
			Reason:    req.Reason,
		})
	})
	if err != nil {
		internalError(c, h.Log, "subject update failed", err)
		return
	}

	utils.Success(c, "Subject updated successfully", subject)
}

// GetSubjectVisits handles fetching the visit schedule for a subject.
func (h *SubjectHandler) GetSubjectVisits(c *gin.Context) {
	var subject models.Subject
	if err := h.DB.First(&subject, "id = ?", c.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "Subject not found")
		} else {
			internalError(c, h.Log, "subject lookup failed", err)
		}
		return
	}
	if !middleware.CanAccessSite(c, subject.SiteID) {
		utils.Forbidden(c, "Subject belongs to another site")
		return
	}

	var visits []models.SubjectVisit
	if err := h.DB.Preload("Visit").
		Where("subject_id = ?", subject.ID).
		Joins("JOIN visits ON visits.id = subject_visits.visit_id").
		Order("visits.sequence").
		Find(&visits).Error; err != nil {
		internalError(c, h.Log, "subject visit listing failed", err)
		return
	}
	utils.Success(c, "Subject visits fetched successfully", visits)
}

// UpdateSubjectVisitRequest represents the request body for recording an
// occurred visit.
type UpdateSubjectVisitRequest struct {
	ActualDate string `json:"actualDate" binding:"required"`
}

// UpdateSubjectVisit records the actual date of a visit and marks it
// Completed.
func (h *SubjectHandler) UpdateSubjectVisit(c *gin.Context) {
	var req UpdateSubjectVisitRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	actual, err := parseDate(req.ActualDate)
	if err != nil || actual == nil {
		utils.BadRequest(c, "Invalid actual date, expected yyyy-mm-dd")
		return
	}

	var visit models.SubjectVisit
	if err := h.DB.Preload("Subject").First(&visit, "id = ?", c.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "Subject visit not found")
		} else {
			internalError(c, h.Log, "subject visit lookup failed", err)
		}
		return
	}
	if !middleware.CanAccessSite(c, visit.Subject.SiteID) {
		utils.Forbidden(c, "Subject belongs to another site")
		return
	}
	before := visit
	before.Subject = models.Subject{}

	visit.Subject = models.Subject{}
	visit.ActualDate = actual
	visit.Status = models.VisitCompleted

	actorID, actorName := actor(c, h.DB)
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(&visit).Error; err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			ActorID:   actorID,
			ActorName: actorName,
			Action:    models.AuditUpdate,
			Table:     "subject_visits",
			RecordID:  visit.ID,
			Old:       before,
			New:       visit,
		})
	})
	if err != nil {
		internalError(c, h.Log, "subject visit update failed", err)
		return
	}

	utils.Success(c, "Subject visit updated successfully", visit)
}
