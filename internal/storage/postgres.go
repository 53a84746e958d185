package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/HJ8A/proyecto-asistencia/internal/attendance"
	"github.com/HJ8A/proyecto-asistencia/internal/config"
	"github.com/HJ8A/proyecto-asistencia/internal/models"
)

var (
	// ErrTokenExhausted means every generated QR token collided with an existing one.
	ErrTokenExhausted = errors.New("could not generate a unique qr token")
	ErrNotFound       = errors.New("not found")
)

const uniqueViolation = "23505"

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Gallery ---

// LoadAllEmbeddings returns every embedding of every active student in insertion order.
func (s *PostgresStore) LoadAllEmbeddings(ctx context.Context) ([]models.GalleryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ef.estudiante_id, e.nombre, e.apellido, ef.encoding_data
		FROM encodings_faciales ef
		JOIN estudiantes e ON e.id = ef.estudiante_id
		WHERE e.activo
		ORDER BY ef.id`)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	defer rows.Close()

	var entries []models.GalleryEntry
	for rows.Next() {
		var (
			id          int64
			first, last string
			vec         pgvector.Vector
		)
		if err := rows.Scan(&id, &first, &last, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		raw := vec.Slice()
		emb := make([]float64, len(raw))
		for i, x := range raw {
			emb[i] = float64(x)
		}
		entries = append(entries, models.GalleryEntry{
			IdentityID: id,
			Name:       models.Identity{FirstName: first, LastName: last}.DisplayName(),
			Embedding:  emb,
		})
	}
	return entries, rows.Err()
}

// LoadTokenMap maps QR payloads to active students.
func (s *PostgresStore) LoadTokenMap(ctx context.Context) (map[string]models.TokenOwner, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT qr_code, id, nombre, apellido FROM estudiantes WHERE activo AND qr_code IS NOT NULL AND qr_code <> ''`)
	if err != nil {
		return nil, fmt.Errorf("load token map: %w", err)
	}
	defer rows.Close()

	tokens := make(map[string]models.TokenOwner)
	for rows.Next() {
		var (
			token       string
			id          int64
			first, last string
		)
		if err := rows.Scan(&token, &id, &first, &last); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens[token] = models.TokenOwner{
			IdentityID: id,
			Name:       models.Identity{FirstName: first, LastName: last}.DisplayName(),
		}
	}
	return tokens, rows.Err()
}

// --- Policy ---

// GetPolicy returns nil when the configuration row is missing.
func (s *PostgresStore) GetPolicy(ctx context.Context) (*models.Policy, error) {
	var (
		entrySeconds int64
		tolerance    int
	)
	err := s.pool.QueryRow(ctx,
		`SELECT EXTRACT(EPOCH FROM hora_entrada)::bigint, tolerancia_minutos FROM configuracion WHERE id = 1`,
	).Scan(&entrySeconds, &tolerance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return &models.Policy{
		EntryTime:        time.Duration(entrySeconds) * time.Second,
		ToleranceMinutes: tolerance,
	}, nil
}

// --- Attendance ---

// InsertAttendance appends one event. A row already present for the same
// student, date and method yields attendance.ErrDuplicate.
func (s *PostgresStore) InsertAttendance(ctx context.Context, ev *models.AttendanceEvent) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO asistencias (estudiante_id, fecha, recorded_at, metodo_deteccion, estado, confianza, snapshot_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (estudiante_id, fecha, metodo_deteccion) DO NOTHING
		RETURNING id`,
		ev.IdentityID, ev.Date, ev.RecordedAt, string(ev.Method), string(ev.Status), ev.Confidence, ev.SnapshotKey,
	).Scan(&ev.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return attendance.ErrDuplicate
		}
		return fmt.Errorf("insert attendance: %w", err)
	}
	return nil
}

// ListAttendance returns the events of one day, most recent first.
func (s *PostgresStore) ListAttendance(ctx context.Context, date time.Time) ([]models.AttendanceEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.estudiante_id, e.nombre, e.apellido, a.fecha, a.recorded_at,
		       a.metodo_deteccion, a.estado, a.confianza, a.snapshot_key
		FROM asistencias a
		JOIN estudiantes e ON e.id = a.estudiante_id
		WHERE a.fecha = $1
		ORDER BY a.recorded_at DESC, a.id DESC`, date)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var events []models.AttendanceEvent
	for rows.Next() {
		var (
			ev             models.AttendanceEvent
			first, last    string
			method, status string
			day            time.Time
		)
		if err := rows.Scan(&ev.ID, &ev.IdentityID, &first, &last, &day, &ev.RecordedAt,
			&method, &status, &ev.Confidence, &ev.SnapshotKey); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		ev.Name = models.Identity{FirstName: first, LastName: last}.DisplayName()
		ev.Method = models.Method(method)
		ev.Status = models.Status(status)
		ev.Date = localDay(day)
		ev.RecordedAt = ev.RecordedAt.Local()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetAttendance returns one event, or nil when the id is unknown.
func (s *PostgresStore) GetAttendance(ctx context.Context, id int64) (*models.AttendanceEvent, error) {
	ev := &models.AttendanceEvent{}
	var method, status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, estudiante_id, fecha, recorded_at, metodo_deteccion, estado, confianza, snapshot_key
		FROM asistencias WHERE id = $1`, id,
	).Scan(&ev.ID, &ev.IdentityID, &ev.Date, &ev.RecordedAt, &method, &status, &ev.Confidence, &ev.SnapshotKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	ev.Method = models.Method(method)
	ev.Status = models.Status(status)
	ev.Date = localDay(ev.Date)
	ev.RecordedAt = ev.RecordedAt.Local()
	return ev, nil
}

// localDay maps a scanned DATE, which arrives as UTC midnight, to local
// midnight of the same calendar day.
func localDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.Local)
}

// --- Students ---

func (s *PostgresStore) GetStudent(ctx context.Context, id int64) (*models.Identity, error) {
	st := &models.Identity{}
	var token *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, codigo, nombre, apellido, qr_code, activo, fecha_registro FROM estudiantes WHERE id = $1`, id,
	).Scan(&st.ID, &st.Code, &st.FirstName, &st.LastName, &token, &st.Active, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	if token != nil {
		st.QRToken = *token
	}
	return st, nil
}

func (s *PostgresStore) CountFaces(ctx context.Context, studentID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM encodings_faciales WHERE estudiante_id = $1`, studentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return count, nil
}

// AddFaceEmbedding appends an enrolment capture. Existing rows are never replaced.
func (s *PostgresStore) AddFaceEmbedding(ctx context.Context, studentID int64, embedding []float32, quality float32, sourceKey string) (*models.FaceEmbedding, error) {
	fe := &models.FaceEmbedding{
		IdentityID: studentID,
		Embedding:  embedding,
		Quality:    quality,
		SourceKey:  sourceKey,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO encodings_faciales (estudiante_id, encoding_data, quality, imagen_path)
		 VALUES ($1, $2, $3, $4) RETURNING id, fecha_creacion`,
		studentID, pgvector.NewVector(embedding), quality, sourceKey,
	).Scan(&fe.ID, &fe.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add face embedding: %w", err)
	}
	return fe, nil
}

// RegenerateQRToken assigns a fresh random token, retrying on collisions up to
// maxAttempts times.
func (s *PostgresStore) RegenerateQRToken(ctx context.Context, studentID int64, maxAttempts int) (string, error) {
	return assignToken(maxAttempts, func() string { return newToken(studentID) }, func(token string) error {
		tag, err := s.pool.Exec(ctx, `UPDATE estudiantes SET qr_code = $1 WHERE id = $2`, token, studentID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func newToken(studentID int64) string {
	return fmt.Sprintf("EST-%d-%s", studentID, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// assignToken tries generated tokens until one is accepted. Only unique
// violations are retried.
func assignToken(maxAttempts int, generate func() string, try func(string) error) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		token := generate()
		err := try(token)
		if err == nil {
			return token, nil
		}
		if !isUniqueViolation(err) {
			return "", fmt.Errorf("assign qr token: %w", err)
		}
	}
	return "", ErrTokenExhausted
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
