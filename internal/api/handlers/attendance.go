package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facerec/internal/attendance"
	"github.com/your-org/facerec/internal/gateway"
	"github.com/your-org/facerec/internal/models"
	"github.com/your-org/facerec/internal/storage"
	"github.com/your-org/facerec/pkg/dto"
)

type AttendanceHandler struct {
	db     *storage.PostgresStore
	ledger *attendance.Ledger
	gw     *gateway.Gateway
}

func NewAttendanceHandler(db *storage.PostgresStore, ledger *attendance.Ledger, gw *gateway.Gateway) *AttendanceHandler {
	return &AttendanceHandler{db: db, ledger: ledger, gw: gw}
}

// dateParam resolves the ?date= query, defaulting to today in the
// deployment timezone.
func (h *AttendanceHandler) dateParam(c *gin.Context) (time.Time, bool) {
	raw := c.Query("date")
	if raw == "" {
		return h.ledger.DateOf(time.Now()), true
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, want YYYY-MM-DD"})
		return time.Time{}, false
	}
	return d, true
}

func (h *AttendanceHandler) Daily(c *gin.Context) {
	date, ok := h.dateParam(c)
	if !ok {
		return
	}

	summaries, err := h.db.ListDaily(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	rows := make([]dto.DailyAttendanceRow, 0, len(summaries))
	for i := range summaries {
		s := &summaries[i]
		rows = append(rows, dto.DailyAttendanceRow{
			Name:       s.Name,
			ExternalID: s.ExternalID,
			Record:     dto.NewAttendanceRecordResponse(&s.Record),
		})
	}

	c.JSON(http.StatusOK, dto.DailyAttendanceResponse{
		Date:  date.Format("2006-01-02"),
		Rows:  rows,
		Total: len(rows),
	})
}

// Unknowns lists fingerprints seen on a date, with their attendance
// records, for the review queue.
func (h *AttendanceHandler) Unknowns(c *gin.Context) {
	date, ok := h.dateParam(c)
	if !ok {
		return
	}

	days, err := h.db.ListUnknowns(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	rows := make([]dto.UnknownRow, 0, len(days))
	for i := range days {
		u := &days[i]
		rows = append(rows, dto.UnknownRow{
			Fingerprint: fingerprintResponse(&u.Fingerprint),
			Record:      dto.NewAttendanceRecordResponse(&u.Record),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"date":     date.Format("2006-01-02"),
		"unknowns": rows,
		"total":    len(rows),
	})
}

// Toggle is the operator correction: flip the subject's state for today,
// skipping the dwell debounce entirely.
func (h *AttendanceHandler) Toggle(c *gin.Context) {
	var req dto.ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	subject := models.SubjectRef{Kind: models.SubjectKind(req.SubjectKind), ID: req.SubjectID}
	if !subject.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subject"})
		return
	}
	if !h.subjectExists(c, subject) {
		return
	}

	outcome, rec, err := h.gw.ManualToggle(c.Request.Context(), subject)
	if err != nil {
		if errors.Is(err, attendance.ErrUpdateConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "record changed concurrently, retry"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.ToggleResponse{
		Outcome: string(outcome),
		Record:  dto.NewAttendanceRecordResponse(rec),
	})
}

func (h *AttendanceHandler) subjectExists(c *gin.Context, subject models.SubjectRef) bool {
	var (
		found bool
		err   error
	)
	switch subject.Kind {
	case models.SubjectPerson:
		var p *models.Person
		p, err = h.db.GetPerson(c.Request.Context(), subject.ID)
		found = p != nil
	case models.SubjectFingerprint:
		var fp *models.Fingerprint
		fp, err = h.db.GetFingerprint(c.Request.Context(), subject.ID)
		found = fp != nil
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return false
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "subject not found"})
		return false
	}
	return true
}
