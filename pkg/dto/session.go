package dto

import "github.com/HJ8A/proyecto-asistencia/internal/models"

type SessionResponse struct {
	Session models.SessionStatus `json:"session"`
}

type GalleryResponse struct {
	Version uint64 `json:"version"`
	Size    int    `json:"size"`
}
