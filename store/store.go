// Package store persists batch detection results in a SQLite database, so faces found
// by a scan can later be merged without detecting them again.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/esimov/facemerge/batch"
	"github.com/esimov/facemerge/detect"
	"github.com/esimov/facemerge/landmark"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no detection is stored for an image or face.
var ErrNotFound = errors.New("not found")

// Image statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Store is a SQLite backed result store.
type Store struct {
	db   *sql.DB
	path string
}

// Image is the stored summary of one scanned file.
type Image struct {
	Path      string
	Status    string
	Error     string
	Faces     int
	ScannedAt time.Time
}

// New opens the database at dbPath, enables foreign keys and runs the migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serialises the writers and keeps in-memory databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveReport stores the faces of every completed path and the error of every failed one.
// Previous results of the same paths are replaced.
func (s *Store) SaveReport(ctx context.Context, report *batch.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	agg := report.Aggregate
	for _, p := range agg.Paths() {
		faces, _ := agg.Faces(p)
		if err := saveImage(ctx, tx, p, StatusCompleted, "", now); err != nil {
			return err
		}
		if err := saveFaces(ctx, tx, p, faces); err != nil {
			return err
		}
	}
	for _, f := range report.Failures {
		if err := saveImage(ctx, tx, f.Path, StatusFailed, f.Err.Error(), now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

// SaveFaces stores the faces detected in a single image.
func (s *Store) SaveFaces(ctx context.Context, path string, faces []detect.Face) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveImage(ctx, tx, path, StatusCompleted, "", time.Now().UTC()); err != nil {
		return err
	}
	if err := saveFaces(ctx, tx, path, faces); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit faces: %w", err)
	}
	return nil
}

func saveImage(ctx context.Context, tx *sql.Tx, path, status, errMsg string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO images (path, status, error, scanned_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET status = excluded.status, error = excluded.error, scanned_at = excluded.scanned_at`,
		path, status, errMsg, at.Unix())
	if err != nil {
		return fmt.Errorf("failed to save image %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM faces WHERE image_path = ?`, path); err != nil {
		return fmt.Errorf("failed to clear faces of %s: %w", path, err)
	}
	return nil
}

func saveFaces(ctx context.Context, tx *sql.Tx, path string, faces []detect.Face) error {
	for i, f := range faces {
		lm, err := json.Marshal(f.Landmarks)
		if err != nil {
			return fmt.Errorf("failed to encode landmarks: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO faces (id, image_path, position, min_x, min_y, max_x, max_y, landmarks)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET image_path = excluded.image_path, position = excluded.position,
				min_x = excluded.min_x, min_y = excluded.min_y, max_x = excluded.max_x, max_y = excluded.max_y,
				landmarks = excluded.landmarks`,
			f.ID, path, i, f.Rect.Min.X, f.Rect.Min.Y, f.Rect.Max.X, f.Rect.Max.Y, string(lm))
		if err != nil {
			return fmt.Errorf("failed to save face %s: %w", f.ID, err)
		}
	}
	return nil
}

// Faces returns the faces stored for a successfully scanned image, in detection order.
func (s *Store) Faces(ctx context.Context, path string) ([]detect.Face, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM images WHERE path = ?`, path).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && status != StatusCompleted) {
		return nil, fmt.Errorf("faces of %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query image: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, min_x, min_y, max_x, max_y, landmarks FROM faces
		WHERE image_path = ? ORDER BY position`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query faces: %w", err)
	}
	defer rows.Close()

	faces := []detect.Face{}
	for rows.Next() {
		var (
			f   detect.Face
			r   image.Rectangle
			raw string
		)
		if err := rows.Scan(&f.ID, &r.Min.X, &r.Min.Y, &r.Max.X, &r.Max.Y, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan face: %w", err)
		}
		var lm landmark.Set
		if err := json.Unmarshal([]byte(raw), &lm); err != nil {
			return nil, err
		}
		f.Rect, f.Landmarks = r, lm
		faces = append(faces, f)
	}
	return faces, rows.Err()
}

// ImageOf returns the path of the image a face was detected in.
func (s *Store) ImageOf(ctx context.Context, faceID string) (string, error) {
	var path string
	err := s.db.QueryRowContext(ctx, `SELECT image_path FROM faces WHERE id = ?`, faceID).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("face %s: %w", faceID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query face: %w", err)
	}
	return path, nil
}

// Images lists the stored images ordered by path.
func (s *Store) Images(ctx context.Context) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.path, i.status, i.error, i.scanned_at, COUNT(f.id)
		FROM images i LEFT JOIN faces f ON f.image_path = i.path
		GROUP BY i.path ORDER BY i.path`)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var res []Image
	for rows.Next() {
		var (
			img  Image
			unix int64
		)
		if err := rows.Scan(&img.Path, &img.Status, &img.Error, &unix, &img.Faces); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		img.ScannedAt = time.Unix(unix, 0).UTC()
		res = append(res, img)
	}
	return res, rows.Err()
}
