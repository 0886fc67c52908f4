package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"roomsync/internal/events"
	"roomsync/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// ErrListNotFound is returned when mutating a list that does not exist
var ErrListNotFound = errors.New("list not found")

// wellKnownLists are created on first open and can never be deleted
var wellKnownLists = []models.ListInfo{
	{ID: models.ListIDDefault, Name: "Default List", Source: models.ListSourceDefault},
	{ID: models.ListIDLove, Name: "My Favorites", Source: models.ListSourceLove},
	{ID: models.ListIDTemp, Name: "Now Playing", Source: models.ListSourceTemp},
	{ID: models.ListIDDownload, Name: "Downloads", Source: models.ListSourceDownload},
}

// Database is the local list storage. Every mutation is announced on the
// event bus after it commits. It is safe for concurrent use because the
// underlying *sql.DB is concurrency-safe.
type Database struct {
	conn   *sql.DB
	bus    *events.Bus
	logger *logrus.Entry

	listMusicsStmt *sql.Stmt
	listInfoStmt   *sql.Stmt
}

// NewDatabase opens (or creates) the SQLite file at dbPath, ensures the
// schema exists and seeds the well-known lists. bus may be nil.
func NewDatabase(dbPath string, bus *events.Bus, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
	}
	log := logger.WithField("component", "database")

	conn, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=rwc&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=memory;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			log.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &Database{conn: conn, bus: bus, logger: log}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	log.WithField("db_path", dbPath).Info("Database initialized successfully")
	return db, nil
}

// createTables is idempotent
func (db *Database) createTables() error {
	listsTable := `
	CREATE TABLE IF NOT EXISTS lists (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	listTracksTable := `
	CREATE TABLE IF NOT EXISTS list_tracks (
		list_id TEXT NOT NULL,
		track_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		singer TEXT NOT NULL,
		album TEXT NOT NULL,
		source TEXT NOT NULL,
		interval TEXT,
		pic_url TEXT,
		qualities TEXT,
		FOREIGN KEY (list_id) REFERENCES lists(id) ON DELETE CASCADE,
		PRIMARY KEY (list_id, track_id)
	);`

	statements := []string{
		listsTable,
		listTracksTable,
		"CREATE INDEX IF NOT EXISTS idx_list_tracks_position ON list_tracks(list_id, position);",
	}
	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return err
		}
	}

	for _, list := range wellKnownLists {
		if _, err := db.conn.Exec(`INSERT OR IGNORE INTO lists (id, name, source) VALUES (?, ?, ?)`,
			list.ID, list.Name, list.Source); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) prepareStatements() error {
	var err error

	db.listMusicsStmt, err = db.conn.Prepare(`
		SELECT track_id, name, singer, album, source, interval, pic_url, qualities
		FROM list_tracks WHERE list_id = ?
		ORDER BY position`)
	if err != nil {
		return fmt.Errorf("failed to prepare list musics statement: %w", err)
	}

	db.listInfoStmt, err = db.conn.Prepare(`SELECT id, name, source FROM lists WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare list info statement: %w", err)
	}
	return nil
}

// Close closes the prepared statements and the connection pool
func (db *Database) Close() error {
	for _, stmt := range []*sql.Stmt{db.listMusicsStmt, db.listInfoStmt} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				db.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// CreateList adds a user list. Creating an existing id is an error.
func (db *Database) CreateList(ctx context.Context, id, name string) error {
	if id == "" || name == "" {
		return fmt.Errorf("list id and name are required")
	}
	_, err := db.conn.ExecContext(ctx, `INSERT INTO lists (id, name, source) VALUES (?, ?, ?)`,
		id, name, models.ListSourceUser)
	if err != nil {
		return fmt.Errorf("failed to create list %s: %w", id, err)
	}
	return nil
}

// DeleteList removes a user list and its tracks
func (db *Database) DeleteList(ctx context.Context, id string) error {
	for _, list := range wellKnownLists {
		if list.ID == id {
			return fmt.Errorf("list %s cannot be deleted", id)
		}
	}
	res, err := db.conn.ExecContext(ctx, `DELETE FROM lists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete list %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrListNotFound
	}
	return nil
}

// Lists returns every list, well-known ones first
func (db *Database) Lists(ctx context.Context) ([]models.ListInfo, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, source FROM lists
		ORDER BY CASE source WHEN 'user' THEN 1 ELSE 0 END, created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lists []models.ListInfo
	for rows.Next() {
		var info models.ListInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.Source); err != nil {
			return nil, err
		}
		lists = append(lists, info)
	}
	return lists, rows.Err()
}

// ListInfo returns the display metadata of a list; ok is false when the list
// does not exist.
func (db *Database) ListInfo(ctx context.Context, id string) (models.ListInfo, bool, error) {
	var info models.ListInfo
	err := db.listInfoStmt.QueryRowContext(ctx, id).Scan(&info.ID, &info.Name, &info.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ListInfo{}, false, nil
	}
	if err != nil {
		return models.ListInfo{}, false, err
	}
	return info, true, nil
}

// ListMusics returns the tracks of a list in order. Unknown lists are empty.
func (db *Database) ListMusics(ctx context.Context, listID string) ([]models.Track, error) {
	rows, err := db.listMusicsStmt.QueryContext(ctx, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrackRows(rows)
}

// OverwriteListMusics replaces the whole content of a list, creating the list
// when it does not exist yet.
func (db *Database) OverwriteListMusics(ctx context.Context, listID string, tracks []models.Track) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO lists (id, name, source) VALUES (?, ?, ?)`,
			listID, listID, models.ListSourceUser); err != nil {
			return err
		}
		return writeTracks(ctx, tx, listID, dedupe(tracks))
	})
	if err != nil {
		return fmt.Errorf("failed to overwrite list %s: %w", listID, err)
	}
	db.publish(events.ListMusicOverwrite, listID, len(tracks))
	return nil
}

// AddMusics appends tracks that are not in the list yet
func (db *Database) AddMusics(ctx context.Context, listID string, tracks []models.Track) error {
	err := db.mutateList(ctx, listID, func(current []models.Track) []models.Track {
		return dedupe(append(current, tracks...))
	})
	if err != nil {
		return fmt.Errorf("failed to add to list %s: %w", listID, err)
	}
	db.publish(events.ListMusicAdd, listID, len(tracks))
	return nil
}

// RemoveMusics drops the given track ids from a list
func (db *Database) RemoveMusics(ctx context.Context, listID string, trackIDs []string) error {
	drop := toSet(trackIDs)
	err := db.mutateList(ctx, listID, func(current []models.Track) []models.Track {
		kept := current[:0]
		for _, t := range current {
			if !drop[t.ID] {
				kept = append(kept, t)
			}
		}
		return kept
	})
	if err != nil {
		return fmt.Errorf("failed to remove from list %s: %w", listID, err)
	}
	db.publish(events.ListMusicRemove, listID, len(trackIDs))
	return nil
}

// MoveMusics moves tracks from one list to the end of another. Both lists
// get a move event.
func (db *Database) MoveMusics(ctx context.Context, fromID, toID string, trackIDs []string) error {
	if fromID == toID {
		return nil
	}
	moving := toSet(trackIDs)
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		from, err := readTracks(ctx, tx, fromID)
		if err != nil {
			return err
		}
		to, err := readTracks(ctx, tx, toID)
		if err != nil {
			return err
		}
		var kept, moved []models.Track
		for _, t := range from {
			if moving[t.ID] {
				moved = append(moved, t)
			} else {
				kept = append(kept, t)
			}
		}
		if err := writeTracks(ctx, tx, fromID, kept); err != nil {
			return err
		}
		return writeTracks(ctx, tx, toID, dedupe(append(to, moved...)))
	})
	if err != nil {
		return fmt.Errorf("failed to move tracks from %s to %s: %w", fromID, toID, err)
	}
	db.publish(events.ListMusicMove, fromID, len(trackIDs))
	db.publish(events.ListMusicMove, toID, len(trackIDs))
	return nil
}

// UpdatePosition moves the given tracks, in their current order, so that the
// first of them lands at position. Positions past the end append.
func (db *Database) UpdatePosition(ctx context.Context, listID string, position int, trackIDs []string) error {
	moving := toSet(trackIDs)
	err := db.mutateList(ctx, listID, func(current []models.Track) []models.Track {
		var rest, moved []models.Track
		for _, t := range current {
			if moving[t.ID] {
				moved = append(moved, t)
			} else {
				rest = append(rest, t)
			}
		}
		if position < 0 {
			position = 0
		}
		if position > len(rest) {
			position = len(rest)
		}
		result := make([]models.Track, 0, len(current))
		result = append(result, rest[:position]...)
		result = append(result, moved...)
		return append(result, rest[position:]...)
	})
	if err != nil {
		return fmt.Errorf("failed to reorder list %s: %w", listID, err)
	}
	db.publish(events.ListMusicUpdatePosition, listID, len(trackIDs))
	return nil
}

// mutateList rewrites an existing list with the result of fn inside one
// transaction
func (db *Database) mutateList(ctx context.Context, listID string, fn func([]models.Track) []models.Track) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) > 0 FROM lists WHERE id = ?`, listID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrListNotFound
		}
		current, err := readTracks(ctx, tx, listID)
		if err != nil {
			return err
		}
		return writeTracks(ctx, tx, listID, fn(current))
	})
}

func (db *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.WithError(rbErr).Warn("Failed to roll back transaction")
		}
		return err
	}
	return tx.Commit()
}

func (db *Database) publish(topic events.Topic, listID string, count int) {
	db.logger.WithFields(logrus.Fields{
		"list_id": listID,
		"topic":   topic,
		"count":   count,
	}).Debug("List changed")
	if db.bus != nil {
		db.bus.Publish(events.Event{Topic: topic, ListID: listID})
	}
}

func readTracks(ctx context.Context, tx *sql.Tx, listID string) ([]models.Track, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT track_id, name, singer, album, source, interval, pic_url, qualities
		FROM list_tracks WHERE list_id = ?
		ORDER BY position`, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrackRows(rows)
}

func writeTracks(ctx context.Context, tx *sql.Tx, listID string, tracks []models.Track) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM list_tracks WHERE list_id = ?`, listID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO list_tracks (list_id, track_id, position, name, singer, album, source, interval, pic_url, qualities)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range tracks {
		var qualities sql.NullString
		if len(t.Qualities) > 0 {
			raw, err := json.Marshal(t.Qualities)
			if err != nil {
				return fmt.Errorf("failed to encode qualities of %s: %w", t.ID, err)
			}
			qualities = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, listID, t.ID, i, t.Name, t.Singer, t.Album, t.Source,
			nullString(t.Interval), nullString(t.PicURL), qualities); err != nil {
			return err
		}
	}
	return nil
}

// scanTrackRows expects the column order of readTracks. Callers must have
// already deferred rows.Close().
func scanTrackRows(rows *sql.Rows) ([]models.Track, error) {
	tracks := []models.Track{}
	for rows.Next() {
		var track models.Track
		var interval, picURL, qualities sql.NullString
		if err := rows.Scan(&track.ID, &track.Name, &track.Singer, &track.Album, &track.Source,
			&interval, &picURL, &qualities); err != nil {
			return nil, err
		}
		track.Interval = interval.String
		track.PicURL = picURL.String
		if qualities.Valid && qualities.String != "" {
			if err := json.Unmarshal([]byte(qualities.String), &track.Qualities); err != nil {
				return nil, fmt.Errorf("corrupt qualities for %s: %w", track.ID, err)
			}
		}
		tracks = append(tracks, track)
	}
	return tracks, rows.Err()
}

// dedupe keeps the first occurrence of every track id
func dedupe(tracks []models.Track) []models.Track {
	seen := make(map[string]bool, len(tracks))
	out := make([]models.Track, 0, len(tracks))
	for _, t := range tracks {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	return out
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
