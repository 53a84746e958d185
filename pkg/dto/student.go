package dto

type StudentResponse struct {
	ID        int64  `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	HasQR     bool   `json:"has_qr"`
	FaceCount int    `json:"face_count"`
	CreatedAt string `json:"created_at"`
}

type FaceEmbeddingResponse struct {
	ID        int64   `json:"id"`
	StudentID int64   `json:"student_id"`
	Quality   float32 `json:"quality"`
	SourceKey string  `json:"source_key"`
	CreatedAt string  `json:"created_at"`
}

type QRTokenResponse struct {
	StudentID int64  `json:"student_id"`
	Token     string `json:"token"`
}
