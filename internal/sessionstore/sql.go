package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/opencode-studio/gateway/internal/logger"
	"github.com/opencode-studio/gateway/internal/model"
)

// OpenSQL opens the session database at the given Postgres DSN.
func OpenSQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}

// querySQLSessions reads session rows scoped to projectID. Returns
// (nil, false, nil) when the table has no rows for the project, signalling
// the caller to fall through to the JSON store.
func (s *Store) querySQLSessions(ctx context.Context, projectID string) ([]rawSession, bool, error) {
	if s.db == nil {
		return nil, false, nil
	}

	const query = `
		SELECT
			id, COALESCE(parent_id, ''), COALESCE(directory, ''), COALESCE(title, ''),
			COALESCE(slug, ''), time_created, time_updated,
			COALESCE(share_url, ''), COALESCE(revert_message_id, ''), COALESCE(revert_diff, '')
		FROM session
		WHERE project_id = $1
	`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		logger.SessionStore().Warn().Err(err).Str("project_id", projectID).Msg("sql session query failed")
		return nil, false, err
	}
	defer rows.Close()

	var out []rawSession
	for rows.Next() {
		var r rawSession
		if err := rows.Scan(
			&r.ID, &r.ParentID, &r.Directory, &r.Title, &r.Slug,
			&r.Created, &r.Updated, &r.ShareURL, &r.RevertMessageID, &r.RevertDiff,
		); err != nil {
			return nil, false, err
		}
		r.ProjectID = projectID
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	return out, len(out) > 0, nil
}

// querySQLMessages reads message rows for a session ordered by time_created
// asc. Rows store the full message JSON in a data column; parts are loaded
// separately.
func (s *Store) querySQLMessages(ctx context.Context, sessionID string) ([]model.Message, bool, error) {
	if s.db == nil {
		return nil, false, nil
	}

	const query = `SELECT data FROM message WHERE session_id = $1 ORDER BY time_created ASC`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		logger.SessionStore().Warn().Err(err).Str("session_id", sessionID).Msg("sql message query failed")
		return nil, false, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, false, err
		}
		var m model.Message
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return out, len(out) > 0, nil
}

// querySQLParts reads part rows for a message ordered by id.
func (s *Store) querySQLParts(ctx context.Context, messageID string) ([]model.Part, bool, error) {
	if s.db == nil {
		return nil, false, nil
	}

	const query = `SELECT data FROM part WHERE message_id = $1 ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []model.Part
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, false, err
		}
		var p model.Part
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return out, len(out) > 0, nil
}
