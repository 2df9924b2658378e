package migration

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockMigrator — мок для интерфейса Migrator
type MockMigrator struct {
	mock.Mock
}

func (m *MockMigrator) Up() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMigrator) Version() (uint, bool, error) {
	args := m.Called()
	return args.Get(0).(uint), args.Bool(1), args.Error(2)
}

func (m *MockMigrator) Close() (error, error) {
	args := m.Called()
	return args.Error(0), args.Error(1)
}

const testURI = "postgres://tether@localhost/tether"

func TestMigration_Up(t *testing.T) {
	tests := []struct {
		name     string
		upErr    error
		closeErr error
		wantErr  string
	}{
		{name: "success"},
		// ErrNoChange не должна считаться ошибкой в методе Up()
		{name: "no change", upErr: migrate.ErrNoChange},
		{name: "up fails", upErr: errors.New("syntax error at or near"), wantErr: "syntax error"},
		{name: "close fails", closeErr: errors.New("source closed twice"), wantErr: "source closed twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockM := new(MockMigrator)
			mockM.On("Version").Return(uint(1), false, nil).Once()
			mockM.On("Up").Return(tt.upErr).Once()
			if tt.upErr == nil || errors.Is(tt.upErr, migrate.ErrNoChange) {
				mockM.On("Version").Return(uint(2), false, nil).Once()
			}
			mockM.On("Close").Return(tt.closeErr, nil).Once()

			var gotSource, gotDB string
			engine := func(source, db string) (Migrator, error) {
				gotSource, gotDB = source, db
				return mockM, nil
			}

			version, err := NewMigration("migrations", testURI, engine).Up()

			assert.Equal(t, "file://migrations", gotSource)
			assert.Equal(t, testURI, gotDB)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, uint(2), version)
			}
			mockM.AssertExpectations(t)
		})
	}
}

func TestMigration_UpFreshDatabase(t *testing.T) {
	mockM := new(MockMigrator)
	mockM.On("Version").Return(uint(0), false, migrate.ErrNilVersion).Once()
	mockM.On("Up").Return(nil).Once()
	mockM.On("Version").Return(uint(2), false, nil).Once()
	mockM.On("Close").Return(nil, nil).Once()

	version, err := NewMigration("migrations", testURI, func(string, string) (Migrator, error) {
		return mockM, nil
	}).Up()

	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	mockM.AssertExpectations(t)
}

func TestMigration_UpDirty(t *testing.T) {
	mockM := new(MockMigrator)
	mockM.On("Version").Return(uint(2), true, nil).Once()
	mockM.On("Close").Return(nil, nil).Once()

	_, err := NewMigration("migrations", testURI, func(string, string) (Migrator, error) {
		return mockM, nil
	}).Up()

	assert.ErrorIs(t, err, ErrDirty)
	mockM.AssertNotCalled(t, "Up")
}

func TestMigration_Up_EngineError(t *testing.T) {
	// Ошибка на этапе создания мигратора (например, неверный драйвер)
	engine := func(source, db string) (Migrator, error) {
		return nil, errors.New("engine crash")
	}

	_, err := NewMigration("migrations", testURI, engine).Up()

	assert.Error(t, err)
	assert.Equal(t, "engine crash", err.Error())
}
