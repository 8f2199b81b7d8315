package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facerec/internal/attendance"
	"github.com/your-org/facerec/internal/gateway"
	"github.com/your-org/facerec/internal/match"
	"github.com/your-org/facerec/pkg/dto"
)

type SightingHandler struct {
	gw *gateway.Gateway
}

func NewSightingHandler(gw *gateway.Gateway) *SightingHandler {
	return &SightingHandler{gw: gw}
}

// Submit runs one sighting through the full pipeline synchronously and
// returns the classification plus the resulting attendance record. Kiosk
// devices call this; camera streams go through the queue instead.
func (h *SightingHandler) Submit(c *gin.Context) {
	var req dto.SightingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sightingID := uuid.New()
	res, err := h.gw.ProcessSighting(c.Request.Context(), gateway.Sighting{
		ID:          sightingID,
		Source:      req.Source,
		Embedding:   req.Embedding,
		Timestamp:   req.Timestamp,
		Confidence:  req.Confidence,
		Snapshot:    req.Snapshot,
		SnapshotRef: req.SnapshotRef,
	})
	if err != nil {
		var dimErr *match.DimensionError
		switch {
		case errors.As(err, &dimErr):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": dimErr.Error()})
		case errors.Is(err, attendance.ErrOutOfOrderSighting):
			c.JSON(http.StatusConflict, gin.H{"error": "sighting older than last seen"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	resp := dto.SightingResponse{
		SightingID:  sightingID,
		SubjectKind: res.Kind,
		PersonName:  res.PersonName,
		Score:       res.Score,
		Outcome:     string(res.Outcome),
		Record:      dto.NewAttendanceRecordResponse(res.Record),
	}
	if res.Subject.Valid() {
		id := res.Subject.ID
		resp.SubjectID = &id
	}

	status := http.StatusOK
	if res.Kind == gateway.KindRejected {
		// The sighting was accepted but produced no attendance write.
		status = http.StatusAccepted
	}
	c.JSON(status, resp)
}
