// Package sqlitestore реализует реестр участников поверх SQLite.
// Подходит для развертываний, где реестр разделяется с другими
// инструментами флота.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/internal/registry"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store SQLite-реестр участников.
type Store struct {
	db *sql.DB
}

// New открывает реестр по указанному пути.
// Используйте ":memory:" для тестов.
func New(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping registry database: %w", err)
	}

	// SQLite с WAL mode поддерживает несколько читателей, но только
	// одного писателя
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	store := &Store{db: db}
	if err := store.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run registry migrations: %w", err)
	}
	return store, nil
}

// Close закрывает базу.
func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations выполняет миграции из embedded FS.
func (s *Store) runMigrations() error {
	goose.SetDialect("sqlite3")
	goose.SetBaseFS(embedMigrations)

	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	return nil
}

// AddOrRetrieve реализует registry.Store.
func (s *Store) AddOrRetrieve(ctx context.Context, desc models.ParticipantDescription) (registry.Registration, bool, error) {
	var id uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM participants WHERE owner = ? AND name = ?`,
		desc.Owner, desc.Name,
	).Scan(&id)

	switch {
	case err == nil:
		// обновляем описание, идентификатор сохраняется
		_, err = s.db.ExecContext(ctx,
			`UPDATE participants SET responsiveness = ?, footprint = ? WHERE id = ?`,
			desc.Responsiveness.String(), desc.Profile.Footprint, id,
		)
		if err != nil {
			return registry.Registration{}, false, fmt.Errorf("update participant: %w", err)
		}
		return registry.Registration{
			ID:          models.ParticipantID(id),
			Description: desc,
		}, false, nil

	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO participants (owner, name, responsiveness, footprint) VALUES (?, ?, ?, ?)`,
			desc.Owner, desc.Name, desc.Responsiveness.String(), desc.Profile.Footprint,
		)
		if err != nil {
			return registry.Registration{}, false, fmt.Errorf("insert participant: %w", err)
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return registry.Registration{}, false, fmt.Errorf("participant id: %w", err)
		}
		return registry.Registration{
			ID:          models.ParticipantID(newID),
			Description: desc,
		}, true, nil

	default:
		return registry.Registration{}, false, fmt.Errorf("lookup participant: %w", err)
	}
}

// All реализует registry.Store.
func (s *Store) All(ctx context.Context) ([]registry.Registration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, name, responsiveness, footprint FROM participants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []registry.Registration
	for rows.Next() {
		var (
			id             uint64
			owner, name    string
			responsiveness string
			footprint      float64
		)
		if err := rows.Scan(&id, &owner, &name, &responsiveness, &footprint); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}

		resp := models.ResponsiveUnknown
		switch responsiveness {
		case "responsive":
			resp = models.Responsive
		case "unresponsive":
			resp = models.Unresponsive
		}

		out = append(out, registry.Registration{
			ID: models.ParticipantID(id),
			Description: models.ParticipantDescription{
				Name:           name,
				Owner:          owner,
				Responsiveness: resp,
				Profile:        models.Profile{Footprint: footprint},
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return out, nil
}
