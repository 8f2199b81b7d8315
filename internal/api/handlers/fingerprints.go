package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facerec/internal/models"
	"github.com/your-org/facerec/internal/storage"
	"github.com/your-org/facerec/pkg/dto"
)

type FingerprintHandler struct {
	db        *storage.PostgresStore
	snapshots *storage.SnapshotStore
}

func NewFingerprintHandler(db *storage.PostgresStore, snapshots *storage.SnapshotStore) *FingerprintHandler {
	return &FingerprintHandler{db: db, snapshots: snapshots}
}

func fingerprintResponse(fp *models.Fingerprint) dto.FingerprintResponse {
	resp := dto.FingerprintResponse{
		ID:          fp.ID,
		Sightings:   fp.Sightings,
		FirstSeenAt: fp.FirstSeenAt.UTC().Format("2006-01-02T15:04:05Z"),
		LastSeenAt:  fp.LastSeenAt.UTC().Format("2006-01-02T15:04:05Z"),
		SnapshotKey: fp.SnapshotKey,
	}
	if fp.Label != nil {
		resp.Label = *fp.Label
	}
	return resp
}

func (h *FingerprintHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fingerprint id"})
		return
	}

	fp, err := h.db.GetFingerprint(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if fp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "fingerprint not found"})
		return
	}

	c.JSON(http.StatusOK, fingerprintResponse(fp))
}

// Snapshot proxies the fingerprint's stored face crop from object storage.
func (h *FingerprintHandler) Snapshot(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fingerprint id"})
		return
	}

	fp, err := h.db.GetFingerprint(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if fp == nil || fp.SnapshotKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for fingerprint"})
		return
	}

	data, err := h.snapshots.GetObject(c.Request.Context(), fp.SnapshotKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

// Label attaches an operator-assigned name to an unknown. The fingerprint
// keeps behaving as an unknown identity.
func (h *FingerprintHandler) Label(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fingerprint id"})
		return
	}

	var req dto.LabelFingerprintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.SetFingerprintLabel(c.Request.Context(), id, req.Label); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "labeled"})
}

// Promote enrolls a fingerprint as a real person: the person is created
// (or refreshed) with the given external id, the fingerprint's
// representative embedding becomes a reference embedding, and the
// fingerprint is retired from unknown matching. Future sightings of this
// face identify as the enrolled person.
func (h *FingerprintHandler) Promote(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fingerprint id"})
		return
	}

	var req dto.PromoteFingerprintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fp, err := h.db.GetFingerprint(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if fp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "fingerprint not found"})
		return
	}

	person, err := h.db.UpsertPerson(c.Request.Context(), req.ExternalID, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.db.AddEmbedding(c.Request.Context(), person.ID, fp.Embedding, 1, fp.SnapshotKey); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.PromoteFingerprint(c.Request.Context(), id, person.ID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "promoted",
		"person_id": person.ID,
	})
}
