package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facerec/internal/match"
	"github.com/your-org/facerec/internal/models"
	"github.com/your-org/facerec/pkg/dto"
)

// PersonStore is the persistence surface the person handlers need.
type PersonStore interface {
	UpsertPerson(ctx context.Context, externalID, name string) (*models.Person, error)
	GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error)
	GetPersonByExternalID(ctx context.Context, externalID string) (*models.Person, error)
	ListPersons(ctx context.Context) ([]models.Person, error)
	AddEmbedding(ctx context.Context, personID uuid.UUID, embedding []float32, quality float32, sourceKey string) (*models.FaceEmbedding, error)
	CountEmbeddings(ctx context.Context, personID uuid.UUID) (int, error)
}

// SnapshotPutter stores enrollment source images.
type SnapshotPutter interface {
	PutSnapshot(ctx context.Context, prefix string, data []byte, contentType string) (string, error)
}

type PersonHandler struct {
	db        PersonStore
	snapshots SnapshotPutter
	dim       int
	// EmbedFn extracts a face embedding from image bytes.
	// Set this after the encoder is initialized.
	EmbedFn func(imageData []byte) ([]float32, float32, error)
}

func NewPersonHandler(db PersonStore, snapshots SnapshotPutter, dim int) *PersonHandler {
	return &PersonHandler{db: db, snapshots: snapshots, dim: dim}
}

func (h *PersonHandler) personResponse(ctx context.Context, p *models.Person) dto.PersonResponse {
	count, _ := h.db.CountEmbeddings(ctx, p.ID)
	return dto.PersonResponse{
		ID:             p.ID,
		ExternalID:     p.ExternalID,
		Name:           p.Name,
		EmbeddingCount: count,
		CreatedAt:      p.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// embedImage runs the encoder over uploaded image bytes. On failure the
// HTTP error is already written and ok is false.
func (h *PersonHandler) embedImage(c *gin.Context, imageData []byte) (embedding []float32, quality float32, ok bool) {
	if h.EmbedFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "encoder not initialized"})
		return nil, 0, false
	}
	embedding, quality, err := h.EmbedFn(imageData)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "failed to extract face: " + err.Error()})
		return nil, 0, false
	}
	return embedding, quality, true
}

// Enroll creates or refreshes a person keyed by external id, together with
// at least one reference embedding. Accepts either a JSON body carrying the
// embedding or a multipart form (external_id, name, image) that goes
// through the encoder.
func (h *PersonHandler) Enroll(c *gin.Context) {
	if file, header, ferr := c.Request.FormFile("image"); ferr == nil {
		defer file.Close()
		h.enrollFromImage(c, file, header.Header.Get("Content-Type"))
		return
	}

	var req dto.EnrollPersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if len(req.Embedding) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "embedding or image required"})
		return
	}
	if len(req.Embedding) != h.dim {
		err := &match.DimensionError{Want: h.dim, Got: len(req.Embedding)}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	person, err := h.db.UpsertPerson(c.Request.Context(), req.ExternalID, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	vec := make([]float32, len(req.Embedding))
	copy(vec, req.Embedding)
	match.Normalize(vec)
	if _, err := h.db.AddEmbedding(c.Request.Context(), person.ID, vec, 1, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, h.personResponse(c.Request.Context(), person))
}

func (h *PersonHandler) enrollFromImage(c *gin.Context, file io.Reader, contentType string) {
	externalID := c.PostForm("external_id")
	name := c.PostForm("name")
	if externalID == "" || name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "external_id and name required"})
		return
	}

	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	embedding, quality, ok := h.embedImage(c, imageData)
	if !ok {
		return
	}

	person, err := h.db.UpsertPerson(c.Request.Context(), externalID, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sourceKey := ""
	if h.snapshots != nil {
		if key, serr := h.snapshots.PutSnapshot(c.Request.Context(),
			"faces/"+person.ID.String(), imageData, contentType); serr == nil {
			sourceKey = key
		}
	}

	if _, err := h.db.AddEmbedding(c.Request.Context(), person.ID, embedding, quality, sourceKey); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, h.personResponse(c.Request.Context(), person))
}

// List returns all persons, or a single-element list when filtered with
// ?external_id= (kiosks look people up by badge id, not uuid).
func (h *PersonHandler) List(c *gin.Context) {
	if extID := c.Query("external_id"); extID != "" {
		person, err := h.db.GetPersonByExternalID(c.Request.Context(), extID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if person == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"persons": []dto.PersonResponse{h.personResponse(c.Request.Context(), person)},
			"total":   1,
		})
		return
	}

	persons, err := h.db.ListPersons(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.PersonResponse, 0, len(persons))
	for _, p := range persons {
		resp = append(resp, h.personResponse(c.Request.Context(), &p))
	}

	c.JSON(http.StatusOK, gin.H{"persons": resp, "total": len(resp)})
}

func (h *PersonHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
		return
	}

	person, err := h.db.GetPerson(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if person == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		return
	}

	c.JSON(http.StatusOK, h.personResponse(c.Request.Context(), person))
}

// AddEmbedding attaches one more reference embedding to a person. Accepts
// either a JSON vector or a multipart photo that goes through the encoder.
func (h *PersonHandler) AddEmbedding(c *gin.Context) {
	personID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
		return
	}

	person, err := h.db.GetPerson(c.Request.Context(), personID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if person == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		return
	}

	var embedding []float32
	var quality float32
	sourceKey := ""

	if file, header, ferr := c.Request.FormFile("image"); ferr == nil {
		defer file.Close()

		imageData, rerr := io.ReadAll(file)
		if rerr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
			return
		}
		var ok bool
		embedding, quality, ok = h.embedImage(c, imageData)
		if !ok {
			return
		}

		if h.snapshots != nil {
			key, serr := h.snapshots.PutSnapshot(c.Request.Context(),
				"faces/"+personID.String(), imageData, header.Header.Get("Content-Type"))
			if serr == nil {
				sourceKey = key
			}
		}
	} else {
		var req dto.AddEmbeddingRequest
		if berr := c.ShouldBindJSON(&req); berr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": berr.Error()})
			return
		}
		if len(req.Embedding) != h.dim {
			derr := &match.DimensionError{Want: h.dim, Got: len(req.Embedding)}
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": derr.Error()})
			return
		}
		embedding = make([]float32, len(req.Embedding))
		copy(embedding, req.Embedding)
		match.Normalize(embedding)
		quality = req.Quality
	}

	fe, err := h.db.AddEmbedding(c.Request.Context(), personID, embedding, quality, sourceKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.EmbeddingResponse{
		ID:        fe.ID,
		PersonID:  fe.PersonID,
		Quality:   fe.Quality,
		SourceKey: fe.SourceKey,
		CreatedAt: fe.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}
