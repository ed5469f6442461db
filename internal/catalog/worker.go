// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/strmd/strmd/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS media_dirs (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	path   TEXT NOT NULL UNIQUE,
	kind   TEXT NOT NULL DEFAULT 'local',
	active INTEGER NOT NULL DEFAULT 1
);
`

// request is one message to the worker goroutine.
type request struct {
	id    string // correlation id, carried into worker logs
	op    string
	apply func(db *sql.DB) (any, error)
	reply chan response
}

type response struct {
	id     string
	result any
	err    error
}

// Store is the message-passing client for the approved-directory database.
// All SQL runs on a single worker goroutine that exclusively owns the DB
// handle; Store methods block until the worker replies or the call times out.
type Store struct {
	requests  chan request
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	timeout   time.Duration
	log       zerolog.Logger
}

// Open opens (creating if needed) the catalog database and starts the worker.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	// The worker is the only user of the handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}

	s := &Store{
		requests: make(chan request),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		timeout:  5 * time.Second,
		log:      logger.With().Str("component", "catalog").Logger(),
	}
	go s.run(db)
	return s, nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	// #nosec G301 -- parent directory for the catalog db, not served content
	return os.MkdirAll(dir, 0o755)
}

// run is the worker loop. It exits on Close.
func (s *Store) run(db *sql.DB) {
	defer close(s.done)
	defer func() {
		if err := db.Close(); err != nil {
			s.log.Warn().Err(err).Msg("failed to close catalog db")
		}
	}()

	for {
		select {
		case <-s.quit:
			return
		case req := <-s.requests:
			start := time.Now()
			result, err := req.apply(db)
			metrics.CatalogCallDuration.WithLabelValues(req.op).Observe(time.Since(start).Seconds())
			if err != nil {
				s.log.Error().Str("call_id", req.id).Str("op", req.op).Err(err).Msg("catalog call failed")
			}
			req.reply <- response{id: req.id, result: result, err: err}
		}
	}
}

// Close shuts down the worker and waits for it to release the database.
// Idempotent.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
}

// call sends one request to the worker and waits for the correlated reply.
func (s *Store) call(ctx context.Context, op string, apply func(db *sql.DB) (any, error)) (any, error) {
	req := request{
		id:    uuid.NewString(),
		op:    op,
		apply: apply,
		reply: make(chan response, 1),
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case s.requests <- req:
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: enqueue %s", ErrTimeout, op)
	}

	select {
	case resp := <-req.reply:
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s (call %s)", ErrTimeout, op, req.id)
	}
}

// ApprovedDirectories returns a fresh snapshot of every configured directory.
// The guard calls this per request; no caching happens on this side.
func (s *Store) ApprovedDirectories(ctx context.Context) ([]Directory, error) {
	result, err := s.call(ctx, "list_dirs", func(db *sql.DB) (any, error) {
		rows, err := db.Query(`SELECT id, path, kind, active FROM media_dirs ORDER BY path`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var dirs []Directory
		for rows.Next() {
			var d Directory
			var active int
			if err := rows.Scan(&d.ID, &d.Path, &d.Kind, &active); err != nil {
				return nil, err
			}
			d.Active = active != 0
			dirs = append(dirs, d)
		}
		return dirs, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]Directory), nil
}

// AddDirectory registers a new approved directory. The path is stored in
// absolute form so guard comparisons never depend on the daemon's cwd.
func (s *Store) AddDirectory(ctx context.Context, path string, kind Kind) (Directory, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Directory{}, fmt.Errorf("resolve directory path: %w", err)
	}
	result, err := s.call(ctx, "add_dir", func(db *sql.DB) (any, error) {
		res, err := db.Exec(`INSERT INTO media_dirs (path, kind, active) VALUES (?, ?, 1)`, abs, string(kind))
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		return Directory{ID: id, Path: abs, Kind: kind, Active: true}, nil
	})
	if err != nil {
		return Directory{}, err
	}
	return result.(Directory), nil
}

// SetActive toggles a directory without removing it. Takes effect on the
// very next authorization check.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.call(ctx, "set_active", func(db *sql.DB) (any, error) {
		val := 0
		if active {
			val = 1
		}
		res, err := db.Exec(`UPDATE media_dirs SET active = ? WHERE id = ?`, val, id)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrNotFound
		}
		return nil, nil
	})
	return err
}

// RemoveDirectory deletes a directory entry entirely.
func (s *Store) RemoveDirectory(ctx context.Context, id int64) error {
	_, err := s.call(ctx, "remove_dir", func(db *sql.DB) (any, error) {
		res, err := db.Exec(`DELETE FROM media_dirs WHERE id = ?`, id)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrNotFound
		}
		return nil, nil
	})
	return err
}
