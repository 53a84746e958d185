package models

import "time"

// Identity is an active student the engine can credit.
type Identity struct {
	ID        int64     `json:"id" db:"id"`
	Code      string    `json:"code" db:"codigo"`
	FirstName string    `json:"first_name" db:"nombre"`
	LastName  string    `json:"last_name" db:"apellido"`
	QRToken   string    `json:"qr_token,omitempty" db:"qr_code"`
	Active    bool      `json:"active" db:"activo"`
	CreatedAt time.Time `json:"created_at" db:"fecha_registro"`
}

// DisplayName is the "first last" form shown on the kiosk.
func (i Identity) DisplayName() string {
	if i.LastName == "" {
		return i.FirstName
	}
	return i.FirstName + " " + i.LastName
}

// GalleryEntry is one stored embedding row. An identity may own many.
type GalleryEntry struct {
	IdentityID int64     `json:"identity_id"`
	Name       string    `json:"name"`
	Embedding  []float64 `json:"-"`
}

// TokenOwner is the student a QR payload resolves to.
type TokenOwner struct {
	IdentityID int64  `json:"identity_id"`
	Name       string `json:"name"`
}

// FaceEmbedding is an appended enrolment capture.
type FaceEmbedding struct {
	ID         int64     `json:"id" db:"id"`
	IdentityID int64     `json:"identity_id" db:"estudiante_id"`
	Embedding  []float32 `json:"-" db:"encoding_data"`
	Quality    float32   `json:"quality" db:"quality"`
	SourceKey  string    `json:"source_key" db:"imagen_path"`
	CreatedAt  time.Time `json:"created_at" db:"fecha_creacion"`
}
