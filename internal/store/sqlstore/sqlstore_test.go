package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todocrud/internal/model"
	"todocrud/internal/store"
	"todocrud/internal/store/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "todos.db")
	s, err := Open(context.Background(), Options{Driver: DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTemp(t) })
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "todos.db?_foreign_keys=on"},
		{"data/todos.db", "data/todos.db?_foreign_keys=on"},
		{"file:todos.db?cache=shared", "file:todos.db?cache=shared&_foreign_keys=on"},
		{"todos.db?_fk=1", "todos.db?_fk=1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sqliteDSN(tt.in), "sqliteDSN(%q)", tt.in)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "oracle"})
	assert.ErrorContains(t, err, `unsupported sql driver "oracle"`)
}

func TestForeignKeyViolation(t *testing.T) {
	s := openTemp(t)

	err := s.db.Create(&model.Subtask{TodoID: 12345, Text: "dangling"}).Error
	require.Error(t, err)
	assert.ErrorIs(t, translate(err), store.ErrForeignKey)
}

func TestDuplicateKey(t *testing.T) {
	s := openTemp(t)
	todo := model.Todo{ID: 7, Text: "one", Date: model.MustParseDate("2024-01-01")}
	require.NoError(t, s.db.Create(&todo).Error)

	dup := model.Todo{ID: 7, Text: "two", Date: model.MustParseDate("2024-01-01")}
	err := s.db.Create(&dup).Error
	require.Error(t, err)
	assert.ErrorIs(t, translate(err), store.ErrConflict)
}
