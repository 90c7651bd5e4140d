package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Images table - one row per scanned file
		`CREATE TABLE IF NOT EXISTS images (
			path TEXT PRIMARY KEY,
			status TEXT NOT NULL CHECK(status IN ('completed', 'failed')),
			error TEXT NOT NULL DEFAULT '',
			scanned_at INTEGER NOT NULL
		)`,

		// Faces table - detected faces with their landmarks encoded as JSON
		`CREATE TABLE IF NOT EXISTS faces (
			id TEXT PRIMARY KEY,
			image_path TEXT NOT NULL REFERENCES images(path) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			min_x INTEGER NOT NULL,
			min_y INTEGER NOT NULL,
			max_x INTEGER NOT NULL,
			max_y INTEGER NOT NULL,
			landmarks TEXT NOT NULL DEFAULT '{}'
		)`,

		`CREATE INDEX IF NOT EXISTS idx_faces_image_path ON faces(image_path)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
