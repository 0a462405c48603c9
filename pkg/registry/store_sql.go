package registry

import (
	"embed"
	"encoding/json"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	coordinatorerrors "github.com/r3e-network/coordinator/infrastructure/errors"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLStore persists registered_services rows via sqlx + lib/pq, used when
// REGISTRY_STORE_URL is configured. The in-process Registry map stays
// authoritative at runtime; the store only survives restarts.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore opens a connection to storeURL and applies pending migrations.
func NewSQLStore(storeURL string) (*SQLStore, error) {
	db, err := sqlx.Connect("postgres", storeURL)
	if err != nil {
		return nil, coordinatorerrors.Wrap(coordinatorerrors.ErrCodeMisconfiguration, "failed to connect to registry store", 500, err)
	}

	if err := runMigrations(db, storeURL); err != nil {
		return nil, err
	}

	return &SQLStore{db: db}, nil
}

func runMigrations(db *sqlx.DB, storeURL string) error {
	sourceDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return coordinatorerrors.Wrap(coordinatorerrors.ErrCodeMisconfiguration, "failed to load registry store migrations", 500, err)
	}

	dbDriver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return coordinatorerrors.Wrap(coordinatorerrors.ErrCodeMisconfiguration, "failed to initialize registry store migration driver", 500, err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return coordinatorerrors.Wrap(coordinatorerrors.ErrCodeMisconfiguration, "failed to initialize registry store migrator", 500, err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return coordinatorerrors.Wrap(coordinatorerrors.ErrCodeMisconfiguration, "failed to apply registry store migrations", 500, err)
	}
	return nil
}

type serviceRecordRow struct {
	ID              string  `db:"id"`
	Name            string  `db:"name"`
	Version         string  `db:"version"`
	Endpoint        string  `db:"endpoint"`
	HealthPath      string  `db:"health_path"`
	Status          string  `db:"status"`
	Capabilities    []byte  `db:"capabilities"`
	SupportsRPC     bool    `db:"supports_rpc"`
	Manifest        []byte  `db:"manifest"`
	RegisteredAt    string  `db:"registered_at"`
	LastHealthCheck *string `db:"last_health_check"`
}

// Save upserts a ServiceRecord.
func (s *SQLStore) Save(record ServiceRecord) error {
	caps, err := json.Marshal(record.Capabilities)
	if err != nil {
		return coordinatorerrors.Internal("failed to marshal capabilities", err)
	}

	var manifestJSON []byte
	if record.Manifest != nil {
		manifestJSON, err = json.Marshal(record.Manifest)
		if err != nil {
			return coordinatorerrors.Internal("failed to marshal manifest", err)
		}
	}

	const query = `
		INSERT INTO registered_services
			(id, name, version, endpoint, health_path, status, capabilities, supports_rpc, manifest, registered_at, last_health_check)
		VALUES
			(:id, :name, :version, :endpoint, :health_path, :status, :capabilities, :supports_rpc, :manifest, :registered_at, :last_health_check)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			endpoint = EXCLUDED.endpoint,
			health_path = EXCLUDED.health_path,
			status = EXCLUDED.status,
			capabilities = EXCLUDED.capabilities,
			supports_rpc = EXCLUDED.supports_rpc,
			manifest = EXCLUDED.manifest,
			last_health_check = EXCLUDED.last_health_check
	`

	var lastHealthCheck *string
	if record.LastHealthCheck != nil {
		formatted := record.LastHealthCheck.Format(timeLayout)
		lastHealthCheck = &formatted
	}

	row := serviceRecordRow{
		ID:              record.ID,
		Name:            record.Name,
		Version:         record.Version,
		Endpoint:        record.Endpoint,
		HealthPath:      record.HealthPath,
		Status:          string(record.Status),
		Capabilities:    caps,
		SupportsRPC:     record.SupportsRPC,
		Manifest:        manifestJSON,
		RegisteredAt:    record.RegisteredAt.Format(timeLayout),
		LastHealthCheck: lastHealthCheck,
	}

	_, err = s.db.NamedExec(query, row)
	if err != nil {
		return coordinatorerrors.Internal("failed to persist service record", err)
	}
	return nil
}

// DeleteAll truncates the registered_services table.
func (s *SQLStore) DeleteAll() error {
	_, err := s.db.Exec(`DELETE FROM registered_services`)
	if err != nil {
		return coordinatorerrors.Internal("failed to clear registry store", err)
	}
	return nil
}

// LoadAll loads every persisted ServiceRecord.
func (s *SQLStore) LoadAll() ([]ServiceRecord, error) {
	var rows []serviceRecordRow
	if err := s.db.Select(&rows, `SELECT * FROM registered_services`); err != nil {
		return nil, coordinatorerrors.Internal("failed to load registry store", err)
	}

	out := make([]ServiceRecord, 0, len(rows))
	for _, row := range rows {
		registeredAt, err := parseTime(row.RegisteredAt)
		if err != nil {
			continue
		}

		var capabilities []string
		_ = json.Unmarshal(row.Capabilities, &capabilities)

		var manifest *Manifest
		if len(row.Manifest) > 0 {
			var m Manifest
			if err := json.Unmarshal(row.Manifest, &m); err == nil {
				manifest = &m
			}
		}

		record := ServiceRecord{
			ID:           row.ID,
			Name:         row.Name,
			Version:      row.Version,
			Endpoint:     row.Endpoint,
			HealthPath:   row.HealthPath,
			Status:       Status(row.Status),
			Capabilities: capabilities,
			SupportsRPC:  row.SupportsRPC,
			Manifest:     manifest,
			RegisteredAt: registeredAt,
		}
		if row.LastHealthCheck != nil {
			if t, err := parseTime(*row.LastHealthCheck); err == nil {
				record.LastHealthCheck = &t
			}
		}
		out = append(out, record)
	}
	return out, nil
}

// Close releases the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
