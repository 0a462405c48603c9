package registry

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return &SQLStore{db: sqlxDB}, mock
}

func TestSQLStore_Save(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO registered_services").
		WillReturnResult(sqlmock.NewResult(1, 1))

	record := ServiceRecord{
		ID:           "svc-1",
		Name:         "payments",
		Version:      "1.0.0",
		Endpoint:     "http://p:4000",
		HealthPath:   "/health",
		Status:       StatusActive,
		Capabilities: []string{"payments"},
		RegisteredAt: time.Now().UTC(),
	}

	err := store.Save(record)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DeleteAll(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM registered_services").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := store.DeleteAll()
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_LoadAll(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC().Format(timeLayout)
	rows := sqlmock.NewRows([]string{
		"id", "name", "version", "endpoint", "health_path", "status",
		"capabilities", "supports_rpc", "manifest", "registered_at", "last_health_check",
	}).AddRow("svc-1", "payments", "1.0.0", "http://p:4000", "/health", "active",
		[]byte(`["payments"]`), false, []byte(`{}`), now, nil)

	mock.ExpectQuery("SELECT \\* FROM registered_services").WillReturnRows(rows)

	records, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "payments", records[0].Name)
	require.Equal(t, StatusActive, records[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
