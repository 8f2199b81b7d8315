package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facerec/internal/models"
	"github.com/your-org/facerec/pkg/dto"
)

type fakePersonStore struct {
	persons    map[string]*models.Person
	embeddings map[uuid.UUID][]models.FaceEmbedding
}

func newFakePersonStore() *fakePersonStore {
	return &fakePersonStore{
		persons:    make(map[string]*models.Person),
		embeddings: make(map[uuid.UUID][]models.FaceEmbedding),
	}
}

func (s *fakePersonStore) UpsertPerson(_ context.Context, externalID, name string) (*models.Person, error) {
	if p, ok := s.persons[externalID]; ok {
		p.Name = name
		p.UpdatedAt = time.Now().UTC()
		return p, nil
	}
	p := &models.Person{ID: uuid.New(), ExternalID: externalID, Name: name, CreatedAt: time.Now().UTC()}
	s.persons[externalID] = p
	return p, nil
}

func (s *fakePersonStore) GetPerson(_ context.Context, id uuid.UUID) (*models.Person, error) {
	for _, p := range s.persons {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (s *fakePersonStore) GetPersonByExternalID(_ context.Context, externalID string) (*models.Person, error) {
	return s.persons[externalID], nil
}

func (s *fakePersonStore) ListPersons(_ context.Context) ([]models.Person, error) {
	out := make([]models.Person, 0, len(s.persons))
	for _, p := range s.persons {
		out = append(out, *p)
	}
	return out, nil
}

func (s *fakePersonStore) AddEmbedding(_ context.Context, personID uuid.UUID, embedding []float32, quality float32, sourceKey string) (*models.FaceEmbedding, error) {
	fe := models.FaceEmbedding{
		ID:        uuid.New(),
		PersonID:  personID,
		Embedding: append([]float32(nil), embedding...),
		Quality:   quality,
		SourceKey: sourceKey,
		CreatedAt: time.Now().UTC(),
	}
	s.embeddings[personID] = append(s.embeddings[personID], fe)
	return &fe, nil
}

func (s *fakePersonStore) CountEmbeddings(_ context.Context, personID uuid.UUID) (int, error) {
	return len(s.embeddings[personID]), nil
}

type fakePutter struct {
	keys []string
}

func (f *fakePutter) PutSnapshot(_ context.Context, prefix string, _ []byte, _ string) (string, error) {
	key := prefix + "/src.jpg"
	f.keys = append(f.keys, key)
	return key, nil
}

func newEnrollRouter(h *PersonHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/persons", h.Enroll)
	return r
}

func multipartEnrollBody(t *testing.T, externalID, name string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	require.NoError(t, w.WriteField("external_id", externalID))
	require.NoError(t, w.WriteField("name", name))
	fw, err := w.CreateFormFile("image", "face.jpg")
	require.NoError(t, err)
	_, err = fw.Write([]byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestEnrollFromImage(t *testing.T) {
	store := newFakePersonStore()
	putter := &fakePutter{}
	h := NewPersonHandler(store, putter, 4)
	h.EmbedFn = func([]byte) ([]float32, float32, error) {
		return []float32{1, 0, 0, 0}, 0.8, nil
	}
	r := newEnrollRouter(h)

	body, contentType := multipartEnrollBody(t, "emp-001", "Alice")
	req := httptest.NewRequest(http.MethodPost, "/persons", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp dto.PersonResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "emp-001", resp.ExternalID)
	assert.Equal(t, "Alice", resp.Name)
	assert.Equal(t, 1, resp.EmbeddingCount)

	person := store.persons["emp-001"]
	require.NotNil(t, person)
	embs := store.embeddings[person.ID]
	require.Len(t, embs, 1, "enrollment stores a reference embedding")
	assert.Equal(t, float32(0.8), embs[0].Quality)
	require.Len(t, putter.keys, 1)
	assert.Equal(t, putter.keys[0], embs[0].SourceKey)
}

func TestEnrollFromImageWithoutEncoder(t *testing.T) {
	store := newFakePersonStore()
	h := NewPersonHandler(store, &fakePutter{}, 4)
	r := newEnrollRouter(h)

	body, contentType := multipartEnrollBody(t, "emp-001", "Alice")
	req := httptest.NewRequest(http.MethodPost, "/persons", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, store.persons, "no person without an embedding")
}

func TestEnrollWithJSONEmbedding(t *testing.T) {
	store := newFakePersonStore()
	h := NewPersonHandler(store, &fakePutter{}, 4)
	r := newEnrollRouter(h)

	payload, err := json.Marshal(dto.EnrollPersonRequest{
		ExternalID: "emp-002",
		Name:       "Bob",
		Embedding:  []float32{0, 1, 0, 0},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/persons", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	person := store.persons["emp-002"]
	require.NotNil(t, person)
	assert.Len(t, store.embeddings[person.ID], 1)
}

func TestEnrollRejectsMissingEmbeddingAndImage(t *testing.T) {
	store := newFakePersonStore()
	h := NewPersonHandler(store, &fakePutter{}, 4)
	r := newEnrollRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/persons",
		bytes.NewReader([]byte(`{"external_id":"emp-003","name":"Carol"}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.persons)
}

func TestEnrollRejectsWrongDimension(t *testing.T) {
	store := newFakePersonStore()
	h := NewPersonHandler(store, &fakePutter{}, 4)
	r := newEnrollRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/persons",
		bytes.NewReader([]byte(`{"external_id":"emp-004","name":"Dave","embedding":[1,0,0]}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, store.persons)
}
