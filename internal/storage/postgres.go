package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/faceindex/internal/config"
	"github.com/your-org/faceindex/internal/models"
)

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

// EnsureSchema creates the tables and indexes if they don't exist.
// embeddingDim fixes the pgvector column width (the detector's contract).
func (s *PostgresStore) EnsureSchema(ctx context.Context, embeddingDim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS videos (
			id UUID PRIMARY KEY,
			file_path TEXT UNIQUE NOT NULL,
			file_name TEXT NOT NULL,
			duration DOUBLE PRECISION NOT NULL DEFAULT 0,
			fps DOUBLE PRECISION NOT NULL DEFAULT 0,
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			roi_x INTEGER,
			roi_y INTEGER,
			roi_w INTEGER,
			roi_h INTEGER,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS persons (
			id UUID PRIMARY KEY,
			video_id UUID NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			cluster_label INTEGER NOT NULL,
			name TEXT NOT NULL,
			face_count INTEGER NOT NULL DEFAULT 0,
			thumbnail_ref TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (video_id, cluster_label)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS face_instances (
			id UUID PRIMARY KEY,
			video_id UUID NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			person_id UUID REFERENCES persons(id) ON DELETE SET NULL,
			timestamp DOUBLE PRECISION NOT NULL,
			frame_number INTEGER NOT NULL,
			bbox_x INTEGER NOT NULL,
			bbox_y INTEGER NOT NULL,
			bbox_w INTEGER NOT NULL,
			bbox_h INTEGER NOT NULL,
			embedding vector(%d) NOT NULL,
			thumbnail_ref TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, embeddingDim),
		`CREATE INDEX IF NOT EXISTS idx_face_instances_person ON face_instances(person_id)`,
		`CREATE INDEX IF NOT EXISTS idx_face_instances_video ON face_instances(video_id)`,
		`CREATE INDEX IF NOT EXISTS idx_face_instances_timestamp ON face_instances(timestamp)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- Videos ---

func (s *PostgresStore) CreateVideo(ctx context.Context, filePath, fileName string, roi *models.Rect) (*models.Video, error) {
	v := &models.Video{
		ID:       uuid.New(),
		FilePath: filePath,
		FileName: fileName,
		ROI:      roi,
		Status:   models.VideoStatusPending,
	}
	var rx, ry, rw, rh *int
	if roi != nil {
		rx, ry, rw, rh = &roi.X, &roi.Y, &roi.W, &roi.H
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO videos (id, file_path, file_name, roi_x, roi_y, roi_w, roi_h, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at, updated_at`,
		v.ID, v.FilePath, v.FileName, rx, ry, rw, rh, v.Status,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create video: %w", err)
	}
	return v, nil
}

// scanVideo reads one videos row. The ROI columns are NULL when no region
// was configured.
func scanVideo(row pgx.Row) (*models.Video, error) {
	v := &models.Video{}
	var rx, ry, rw, rh *int
	err := row.Scan(&v.ID, &v.FilePath, &v.FileName, &v.Duration, &v.FPS, &v.Width, &v.Height,
		&rx, &ry, &rw, &rh, &v.Status, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if rx != nil && ry != nil && rw != nil && rh != nil {
		v.ROI = &models.Rect{X: *rx, Y: *ry, W: *rw, H: *rh}
	}
	return v, nil
}

func (s *PostgresStore) GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, file_path, file_name, duration, fps, width, height,
		        roi_x, roi_y, roi_w, roi_h, status, created_at, updated_at
		 FROM videos WHERE id = $1`, id)
	v, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get video: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListVideos(ctx context.Context) ([]models.Video, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, file_path, file_name, duration, fps, width, height,
		        roi_x, roi_y, roi_w, roi_h, status, created_at, updated_at
		 FROM videos ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, *v)
	}
	return videos, rows.Err()
}

func (s *PostgresStore) UpdateVideoStatus(ctx context.Context, id uuid.UUID, status models.VideoStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE videos SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update video status: %w", err)
	}
	return nil
}

// UpdateVideoMetadata stores probed source properties (duration, fps,
// dimensions) once the sampler has opened the video.
func (s *PostgresStore) UpdateVideoMetadata(ctx context.Context, id uuid.UUID, duration, fps float64, width, height int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE videos SET duration = $1, fps = $2, width = $3, height = $4, updated_at = now()
		 WHERE id = $5`, duration, fps, width, height, id)
	if err != nil {
		return fmt.Errorf("update video metadata: %w", err)
	}
	return nil
}

// --- Face instances ---

// InsertFrameFaces writes all detections of one sampled frame in a single
// transaction, so gallery readers never observe a partially written frame.
func (s *PostgresStore) InsertFrameFaces(ctx context.Context, faces []models.FaceInstance) error {
	if len(faces) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert faces: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range faces {
		f := &faces[i]
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		vec := pgvector.NewVector(f.Embedding)
		_, err := tx.Exec(ctx,
			`INSERT INTO face_instances
			 (id, video_id, person_id, timestamp, frame_number, bbox_x, bbox_y, bbox_w, bbox_h, embedding, thumbnail_ref)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			f.ID, f.VideoID, f.PersonID, f.Timestamp, f.FrameNumber,
			f.BBox.X, f.BBox.Y, f.BBox.W, f.BBox.H, vec, f.ThumbnailRef)
		if err != nil {
			return fmt.Errorf("insert face instance: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert faces: %w", err)
	}
	return nil
}

// FaceVector is the clustering input loaded for one face instance.
type FaceVector struct {
	FaceID       uuid.UUID
	PersonID     *uuid.UUID
	Embedding    []float32
	ThumbnailRef string
}

// LoadFaceVectors returns every face instance of a video with its embedding
// and current person assignment, in stable frame order.
func (s *PostgresStore) LoadFaceVectors(ctx context.Context, videoID uuid.UUID) ([]FaceVector, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, person_id, embedding, thumbnail_ref FROM face_instances
		 WHERE video_id = $1 ORDER BY frame_number ASC, id ASC`, videoID)
	if err != nil {
		return nil, fmt.Errorf("load face vectors: %w", err)
	}
	defer rows.Close()

	var out []FaceVector
	for rows.Next() {
		var fv FaceVector
		var vec pgvector.Vector
		if err := rows.Scan(&fv.FaceID, &fv.PersonID, &vec, &fv.ThumbnailRef); err != nil {
			return nil, fmt.Errorf("scan face vector: %w", err)
		}
		fv.Embedding = vec.Slice()
		out = append(out, fv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListFacesByPerson(ctx context.Context, personID uuid.UUID) ([]models.FaceInstance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, video_id, person_id, timestamp, frame_number,
		        bbox_x, bbox_y, bbox_w, bbox_h, thumbnail_ref, created_at
		 FROM face_instances WHERE person_id = $1 ORDER BY timestamp ASC`, personID)
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}
	defer rows.Close()

	var faces []models.FaceInstance
	for rows.Next() {
		var f models.FaceInstance
		if err := rows.Scan(&f.ID, &f.VideoID, &f.PersonID, &f.Timestamp, &f.FrameNumber,
			&f.BBox.X, &f.BBox.Y, &f.BBox.W, &f.BBox.H, &f.ThumbnailRef, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		faces = append(faces, f)
	}
	return faces, rows.Err()
}

// --- Persons ---

func (s *PostgresStore) GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	p := &models.Person{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, video_id, cluster_label, name, face_count, thumbnail_ref, created_at
		 FROM persons WHERE id = $1`, id,
	).Scan(&p.ID, &p.VideoID, &p.ClusterLabel, &p.Name, &p.FaceCount, &p.ThumbnailRef, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPersonsByVideo(ctx context.Context, videoID uuid.UUID) ([]models.Person, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, video_id, cluster_label, name, face_count, thumbnail_ref, created_at
		 FROM persons WHERE video_id = $1 ORDER BY face_count DESC, created_at ASC`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(&p.ID, &p.VideoID, &p.ClusterLabel, &p.Name, &p.FaceCount, &p.ThumbnailRef, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, p)
	}
	return persons, rows.Err()
}

func (s *PostgresStore) RenamePerson(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE persons SET name = $1 WHERE id = $2`, name, id)
	if err != nil {
		return fmt.Errorf("rename person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("person not found")
	}
	return nil
}

// MergePersons reassigns all face instances from source to target, deletes
// the source person and recomputes the target's face count, atomically.
func (s *PostgresStore) MergePersons(ctx context.Context, sourceID, targetID uuid.UUID) error {
	if sourceID == targetID {
		return fmt.Errorf("cannot merge a person into itself")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback(ctx)

	var targetVideo uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT video_id FROM persons WHERE id = $1`, targetID).Scan(&targetVideo); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("target person not found")
		}
		return fmt.Errorf("merge persons: %w", err)
	}
	var sourceVideo uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT video_id FROM persons WHERE id = $1`, sourceID).Scan(&sourceVideo); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("source person not found")
		}
		return fmt.Errorf("merge persons: %w", err)
	}
	if sourceVideo != targetVideo {
		return fmt.Errorf("cannot merge persons from different videos")
	}

	if _, err := tx.Exec(ctx,
		`UPDATE face_instances SET person_id = $1 WHERE person_id = $2`, targetID, sourceID); err != nil {
		return fmt.Errorf("reassign faces: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM persons WHERE id = $1`, sourceID); err != nil {
		return fmt.Errorf("delete source person: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE persons SET face_count = (SELECT COUNT(*) FROM face_instances WHERE person_id = $1)
		 WHERE id = $1`, targetID); err != nil {
		return fmt.Errorf("recount target person: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}

// ApplyClustering writes one reconciliation pass atomically: new persons are
// inserted, every face assignment is updated, face counts recomputed and
// persons left without faces removed. When pruneUnassigned is set, faces the
// clusterer left without a person are deleted as well.
func (s *PostgresStore) ApplyClustering(
	ctx context.Context,
	videoID uuid.UUID,
	newPersons []models.Person,
	assignments map[uuid.UUID]uuid.UUID, // face id -> person id
	unassigned []uuid.UUID, // face ids left without a person
	pruneUnassigned bool,
) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin clustering: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range newPersons {
		_, err := tx.Exec(ctx,
			`INSERT INTO persons (id, video_id, cluster_label, name, thumbnail_ref)
			 VALUES ($1, $2, $3, $4, $5)`,
			p.ID, p.VideoID, p.ClusterLabel, p.Name, p.ThumbnailRef)
		if err != nil {
			return fmt.Errorf("insert person: %w", err)
		}
	}

	for faceID, personID := range assignments {
		if _, err := tx.Exec(ctx,
			`UPDATE face_instances SET person_id = $1 WHERE id = $2`, personID, faceID); err != nil {
			return fmt.Errorf("assign face: %w", err)
		}
	}

	for _, faceID := range unassigned {
		if pruneUnassigned {
			if _, err := tx.Exec(ctx, `DELETE FROM face_instances WHERE id = $1`, faceID); err != nil {
				return fmt.Errorf("prune noise face: %w", err)
			}
		} else {
			if _, err := tx.Exec(ctx,
				`UPDATE face_instances SET person_id = NULL WHERE id = $1`, faceID); err != nil {
				return fmt.Errorf("unassign face: %w", err)
			}
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE persons SET face_count = sub.cnt
		 FROM (SELECT person_id, COUNT(*) AS cnt FROM face_instances
		       WHERE video_id = $1 AND person_id IS NOT NULL GROUP BY person_id) AS sub
		 WHERE persons.id = sub.person_id`, videoID); err != nil {
		return fmt.Errorf("recount persons: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM persons WHERE video_id = $1
		 AND NOT EXISTS (SELECT 1 FROM face_instances WHERE person_id = persons.id)`, videoID); err != nil {
		return fmt.Errorf("prune empty persons: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit clustering: %w", err)
	}
	return nil
}

// PurgeVideoData removes all persons and face instances for a video,
// keeping the video row. Used before an explicit reprocess.
func (s *PostgresStore) PurgeVideoData(ctx context.Context, videoID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM face_instances WHERE video_id = $1`, videoID); err != nil {
		return fmt.Errorf("purge faces: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM persons WHERE video_id = $1`, videoID); err != nil {
		return fmt.Errorf("purge persons: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE videos SET status = 'pending', updated_at = now() WHERE id = $1`, videoID); err != nil {
		return fmt.Errorf("reset video status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit purge: %w", err)
	}
	return nil
}
