package sessionstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/opencode-studio/gateway/internal/model"
)

func TestListPrefersSQLRows(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "parent_id", "directory", "title", "slug",
		"time_created", "time_updated", "share_url", "revert_message_id", "revert_diff",
	}).
		AddRow("s1", "", "/work", "first", "first", int64(1), int64(200), "", "", "").
		AddRow("s2", "", "/work", "second", "second", int64(2), int64(100), "", "", "")
	mock.ExpectQuery(`SELECT\s+id,`).WithArgs("global").WillReturnRows(rows)

	store := New(t.TempDir(), db, nil)
	res, err := store.List(context.Background(), Query{Directory: "/work", Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Sessions, 2)
	require.Equal(t, "s1", res.Sessions[0].ID)
	require.Nil(t, res.Consistency)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListFallsThroughToJSONWhenSQLEmpty(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	empty := sqlmock.NewRows([]string{
		"id", "parent_id", "directory", "title", "slug",
		"time_created", "time_updated", "share_url", "revert_message_id", "revert_diff",
	})
	mock.ExpectQuery(`SELECT\s+id,`).WithArgs("global").WillReturnRows(empty)

	dir := t.TempDir()
	writeSessionFile(t, dir, "global", jsonSessionFile{ID: "json1", Directory: "/work", Title: "from json", Time: struct {
		Created int64 `json:"created"`
		Updated int64 `json:"updated"`
	}{Created: 1, Updated: 50}})

	store := New(dir, db, nil)
	res, err := store.List(context.Background(), Query{Directory: "/work", Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Sessions, 1)
	require.Equal(t, "json1", res.Sessions[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListMessagesPrefersSQLRows(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	msg := model.Message{Info: model.MessageInfo{ID: "m1", SessionID: "s1", Role: "assistant", Time: model.TimeInfo{Created: 1}}}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT data FROM message`).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(data))
	mock.ExpectQuery(`SELECT data FROM part`).WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	store := New(t.TempDir(), db, nil)
	page, err := store.ListMessages(context.Background(), "s1", 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	require.Equal(t, "m1", page.Messages[0].Info.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
