package migration

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	// Blank import required for PostgreSQL driver registration for migrations
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// ErrDirty означает, что прошлая миграция оборвалась и схему нужно чинить руками
var ErrDirty = errors.New("database schema is dirty")

// Migrator — подмножество migrate.Migrate, которое нам нужно
type Migrator interface {
	Up() error
	Version() (version uint, dirty bool, err error)
	Close() (error, error)
}

// MigrationEngine — фабрика для создания мигратора (чтобы не лезть в ФС и БД в тестах)
type MigrationEngine func(sourceURL, databaseURL string) (Migrator, error)

type Migration struct {
	dir         string
	databaseURI string
	engine      MigrationEngine
}

// NewMigration: dir - каталог с *.sql файлами, databaseURI - строка подключения postgres
func NewMigration(dir, databaseURI string, engine MigrationEngine) *Migration {
	if engine == nil {
		engine = DefaultEngine
	}
	return &Migration{
		dir:         dir,
		databaseURI: databaseURI,
		engine:      engine,
	}
}

func DefaultEngine(sourceURL, databaseURL string) (Migrator, error) {
	return migrate.New(sourceURL, databaseURL)
}

// Up накатывает схему rows/sync_log/api_tokens и возвращает итоговую версию.
// Отсутствие изменений ошибкой не считается, грязная схема - считается.
func (mg *Migration) Up() (version uint, err error) {
	m, err := mg.engine("file://"+mg.dir, mg.databaseURI)
	if err != nil {
		return 0, err
	}
	defer func() {
		serr, dberr := m.Close()
		if serr != nil {
			err = errors.Join(err, fmt.Errorf("migration source error: %w", serr))
		}
		if dberr != nil {
			err = errors.Join(err, fmt.Errorf("migration database error: %w", dberr))
		}
	}()

	current, dirty, err := version0(m)
	if err != nil {
		return 0, err
	}
	if dirty {
		return current, fmt.Errorf("%w at version %d", ErrDirty, current)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return current, fmt.Errorf("migration up error: %w", err)
	}

	version, _, err = version0(m)
	return version, err
}

// version0 treats a database without migrations as version 0.
func version0(m Migrator) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return v, dirty, nil
}
