package server

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/codetime/internal/ledger"
	"github.com/dmitrijs2005/codetime/internal/logging"
	"github.com/dmitrijs2005/codetime/internal/server/config"
	"github.com/dmitrijs2005/codetime/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubManager struct {
	repomanager.RepositoryManager
	migrateErr error
	migrated   bool
}

func (s *stubManager) RunMigrations(context.Context, *sql.DB) error {
	s.migrated = true
	return s.migrateErr
}

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.HTTPAddr = "127.0.0.1:0"
	c.Timezone = "UTC"
	return c
}

func stubDB(t *testing.T, rm *stubManager) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	origOpen, origRM := openDB, newRepoManager
	t.Cleanup(func() { openDB, newRepoManager = origOpen, origRM })

	openDB = func(context.Context, string) (*sql.DB, error) { return db, nil }
	newRepoManager = func() repomanager.RepositoryManager {
		rm.RepositoryManager = origRM()
		return rm
	}
	return mock
}

func TestNewApp_MemoryBackend(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(), "test", logging.Nop{})
	require.NoError(t, err)

	assert.Equal(t, ledger.BackendMemory, app.ledger.Backend())
	assert.Equal(t, ledger.PolicyExclusive, app.ledger.Policy())
	assert.Equal(t, "UTC", app.ledger.Location().String())
	assert.Nil(t, app.db)
	assert.Nil(t, app.grpc)
}

func TestNewApp_InvalidConfig(t *testing.T) {
	c := testConfig()
	c.Policy = "sometimes"
	_, err := NewApp(context.Background(), c, "test", logging.Nop{})
	assert.ErrorContains(t, err, "config")

	c = testConfig()
	c.Timezone = "Mars/Olympus"
	_, err = NewApp(context.Background(), c, "test", logging.Nop{})
	assert.ErrorContains(t, err, "config")

	c = testConfig()
	c.SessionSecret = ""
	_, err = NewApp(context.Background(), c, "test", logging.Nop{})
	assert.ErrorContains(t, err, "session secret")
}

func TestNewApp_DefaultSessionSecret(t *testing.T) {
	orig := openDB
	t.Cleanup(func() { openDB = orig })
	opened := false
	openDB = func(context.Context, string) (*sql.DB, error) {
		opened = true
		return nil, errors.New("unexpected open")
	}

	c := testConfig()
	c.DatabaseDSN = "postgres://ledger@localhost/ledger"
	_, err := NewApp(context.Background(), c, "test", logging.Nop{})
	assert.ErrorContains(t, err, "default session secret")
	assert.False(t, opened, "refused before touching the database")

	var buf bytes.Buffer
	app, err := NewApp(context.Background(), testConfig(), "test", logging.NewJSON(&buf, "info"))
	require.NoError(t, err)
	assert.Equal(t, ledger.BackendMemory, app.ledger.Backend())
	assert.Contains(t, buf.String(), "default session secret")
}

func TestNewApp_PostgresBackend(t *testing.T) {
	rm := &stubManager{}
	mock := stubDB(t, rm)

	c := testConfig()
	c.DatabaseDSN = "postgres://ledger@localhost/ledger"
	c.SessionSecret = "s3cr3t"
	c.Policy = "allow-multi"
	c.GRPCAddr = "127.0.0.1:0"

	app, err := NewApp(context.Background(), c, "test", logging.Nop{})
	require.NoError(t, err)
	assert.True(t, rm.migrated)
	assert.Equal(t, ledger.BackendPostgres, app.ledger.Backend())
	assert.Equal(t, ledger.PolicyAllowMulti, app.ledger.Policy())
	assert.NotNil(t, app.grpc)

	mock.ExpectClose()
	app.close(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewApp_MigrationFailureClosesDB(t *testing.T) {
	rm := &stubManager{migrateErr: errors.New("dirty")}
	mock := stubDB(t, rm)
	mock.ExpectClose()

	c := testConfig()
	c.DatabaseDSN = "postgres://ledger@localhost/ledger"
	c.SessionSecret = "s3cr3t"

	_, err := NewApp(context.Background(), c, "test", logging.Nop{})
	assert.ErrorContains(t, err, "migrations error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewApp_OpenFailure(t *testing.T) {
	orig := openDB
	t.Cleanup(func() { openDB = orig })
	openDB = func(context.Context, string) (*sql.DB, error) { return nil, errors.New("refused") }

	c := testConfig()
	c.DatabaseDSN = "postgres://nowhere"
	c.SessionSecret = "s3cr3t"
	_, err := NewApp(context.Background(), c, "test", logging.Nop{})
	assert.ErrorContains(t, err, "refused")
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	c := testConfig()
	c.GRPCAddr = "127.0.0.1:0"
	app, err := NewApp(context.Background(), c, "test", logging.Nop{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_RunReportsListenError(t *testing.T) {
	c := testConfig()
	c.HTTPAddr = "256.0.0.1:99999"
	app, err := NewApp(context.Background(), c, "test", logging.Nop{})
	require.NoError(t, err)

	assert.Error(t, app.Run(context.Background()))
}
