package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/HJ8A/proyecto-asistencia/internal/models"
	"github.com/HJ8A/proyecto-asistencia/internal/storage"
	"github.com/HJ8A/proyecto-asistencia/pkg/dto"
)

const maxEnrolmentImage = 8 << 20

type StudentStore interface {
	GetStudent(ctx context.Context, id int64) (*models.Identity, error)
	CountFaces(ctx context.Context, studentID int64) (int, error)
	AddFaceEmbedding(ctx context.Context, studentID int64, embedding []float32, quality float32, sourceKey string) (*models.FaceEmbedding, error)
	RegenerateQRToken(ctx context.Context, studentID int64, maxAttempts int) (string, error)
}

type ObjectWriter interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// EmbedFunc extracts a face embedding and its detection quality from image bytes.
type EmbedFunc func(imageData []byte) ([]float32, float32, error)

type StudentHandler struct {
	db    StudentStore
	minio ObjectWriter
	// EmbedFn is nil when the api runs without the vision models.
	EmbedFn          EmbedFunc
	MaxTokenAttempts int
}

func NewStudentHandler(db StudentStore, minio ObjectWriter) *StudentHandler {
	return &StudentHandler{db: db, minio: minio, MaxTokenAttempts: 5}
}

func (h *StudentHandler) Get(c *gin.Context) {
	st, ok := h.student(c)
	if !ok {
		return
	}
	faceCount, _ := h.db.CountFaces(c.Request.Context(), st.ID)

	c.JSON(http.StatusOK, dto.StudentResponse{
		ID:        st.ID,
		Code:      st.Code,
		Name:      st.DisplayName(),
		Active:    st.Active,
		HasQR:     st.QRToken != "",
		FaceCount: faceCount,
		CreatedAt: st.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// AddFace accepts a multipart image upload and appends its embedding. The
// kiosk sees it after the next gallery reload.
func (h *StudentHandler) AddFace(c *gin.Context) {
	st, ok := h.student(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(io.LimitReader(file, maxEnrolmentImage+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}
	if len(imageData) > maxEnrolmentImage {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}

	if h.EmbedFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision models not loaded"})
		return
	}

	embedding, quality, err := h.EmbedFn(imageData)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "failed to extract face: " + err.Error()})
		return
	}

	sourceKey := storage.EnrolmentKey(st.ID, time.Now())
	if err := h.minio.PutObject(c.Request.Context(), sourceKey, imageData, header.Header.Get("Content-Type")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store image failed"})
		return
	}

	fe, err := h.db.AddFaceEmbedding(c.Request.Context(), st.ID, embedding, quality, sourceKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.FaceEmbeddingResponse{
		ID:        fe.ID,
		StudentID: fe.IdentityID,
		Quality:   fe.Quality,
		SourceKey: fe.SourceKey,
		CreatedAt: fe.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// RegenerateQR replaces the student's QR token.
func (h *StudentHandler) RegenerateQR(c *gin.Context) {
	st, ok := h.student(c)
	if !ok {
		return
	}

	token, err := h.db.RegenerateQRToken(c.Request.Context(), st.ID, h.MaxTokenAttempts)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	case errors.Is(err, storage.ErrTokenExhausted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.QRTokenResponse{StudentID: st.ID, Token: token})
}

func (h *StudentHandler) student(c *gin.Context) (*models.Identity, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
		return nil, false
	}

	st, err := h.db.GetStudent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return nil, false
	}
	return st, true
}
