package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecomonitor/ecomonitor/internal/envdata"
)

func newMockStore(t *testing.T, clock clockwork.Clock) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, clock), mock
}

func TestPostgresStoreGetHit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store, mock := newMockStore(t, clock)

	rec := testRecord("aqicn")
	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT record, inserted_at, ttl_ms FROM cache_entries").
		WithArgs("v1:airQuality:city=berlin").
		WillReturnRows(sqlmock.NewRows([]string{"record", "inserted_at", "ttl_ms"}).
			AddRow(raw, clock.Now().Add(-time.Minute), int64(3_600_000)))

	entry, found, err := store.Get(context.Background(), "v1:airQuality:city=berlin")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "aqicn", entry.Record.Provider)
	assert.Equal(t, envdata.SubjectAirQuality, entry.Record.Subject)
	assert.Equal(t, time.Hour, entry.TTL)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetMiss(t *testing.T) {
	store, mock := newMockStore(t, clockwork.NewFakeClock())

	mock.ExpectQuery("SELECT record, inserted_at, ttl_ms FROM cache_entries").
		WithArgs("absent").
		WillReturnError(sql.ErrNoRows)

	_, found, err := store.Get(context.Background(), "absent")
	require.NoError(t, err, "a missing row is not an error")
	assert.False(t, found)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetHidesExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store, mock := newMockStore(t, clock)

	raw, err := json.Marshal(testRecord("aqicn"))
	require.NoError(t, err)

	// Inserted two hours ago with a one hour TTL.
	mock.ExpectQuery("SELECT record, inserted_at, ttl_ms FROM cache_entries").
		WithArgs("old").
		WillReturnRows(sqlmock.NewRows([]string{"record", "inserted_at", "ttl_ms"}).
			AddRow(raw, clock.Now().Add(-2*time.Hour), int64(3_600_000)))

	_, found, err := store.Get(context.Background(), "old")
	require.NoError(t, err)
	assert.False(t, found, "expired rows must read as missing")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorePutUpserts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store, mock := newMockStore(t, clock)

	entry := envdata.CacheEntry{
		Key:        "v1:news",
		Record:     testRecord("guardian"),
		InsertedAt: clock.Now(),
		TTL:        time.Hour,
	}

	mock.ExpectExec("INSERT INTO cache_entries").
		WithArgs(entry.Key, sqlmock.AnyArg(), entry.InsertedAt, int64(3_600_000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Put(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSweepReportsRemoved(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store, mock := newMockStore(t, clock)

	mock.ExpectExec("DELETE FROM cache_entries").
		WithArgs(clock.Now()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := store.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	require.NoError(t, mock.ExpectationsWereMet())
}
