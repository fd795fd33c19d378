package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"machine_monitor/internal/models"
)

var ErrMachineNotFound = errors.New("machine not found")

type MachineSQLite struct {
	db *sql.DB
}

func NewMachineSQLite(db *sql.DB) *MachineSQLite { return &MachineSQLite{db: db} }

var _ MachineRegistry = (*MachineSQLite)(nil)

const machineColumns = `id, slug, name, type, connection_type, connection_host, connection_port, enabled`

const (
	selectMachinesSQL    = `SELECT ` + machineColumns + ` FROM machines ORDER BY name ASC`
	selectMachineByIDSQL = `SELECT ` + machineColumns + ` FROM machines WHERE id = ?`
	upsertMachineSQL     = `
		INSERT INTO machines (` + machineColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			slug = excluded.slug,
			name = excluded.name,
			type = excluded.type,
			connection_type = excluded.connection_type,
			connection_host = excluded.connection_host,
			connection_port = excluded.connection_port,
			enabled = excluded.enabled
	`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMachine(s rowScanner) (models.Machine, error) {
	var (
		m  models.Machine
		ct string
	)
	if err := s.Scan(&m.ID, &m.Slug, &m.Name, &m.Type, &ct, &m.ConnectionHost, &m.ConnectionPort, &m.Enabled); err != nil {
		return models.Machine{}, err
	}
	m.ConnectionType = models.ConnectionType(ct)
	return m, nil
}

// List returns every registered machine, enabled or not.
func (r *MachineSQLite) List(ctx context.Context) ([]models.Machine, error) {
	rows, err := r.db.QueryContext(ctx, selectMachinesSQL)
	if err != nil {
		return nil, fmt.Errorf("select machines: %w", err)
	}
	defer rows.Close()

	out := make([]models.Machine, 0, 16)
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan machine: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MachineSQLite) Get(ctx context.Context, id string) (models.Machine, error) {
	m, err := scanMachine(r.db.QueryRowContext(ctx, selectMachineByIDSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Machine{}, ErrMachineNotFound
		}
		return models.Machine{}, fmt.Errorf("select machine %q: %w", id, err)
	}
	return m, nil
}

// Upsert inserts the machine or replaces the registry fields of an existing one.
func (r *MachineSQLite) Upsert(ctx context.Context, m models.Machine) error {
	_, err := r.db.ExecContext(ctx, upsertMachineSQL,
		m.ID, m.Slug, m.Name, m.Type, string(m.ConnectionType), m.ConnectionHost, m.ConnectionPort, m.Enabled,
	)
	if err != nil {
		return fmt.Errorf("upsert machine %q: %w", m.ID, err)
	}
	return nil
}

type seedFile struct {
	Machines []models.Machine `yaml:"machines"`
}

// LoadSeedFile reads a YAML machine list. Connection types are upper-cased
// and every machine needs an id, a slug and a connection type.
func LoadSeedFile(path string) ([]models.Machine, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %q: %w", path, err)
	}
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %q: %w", path, err)
	}
	for i := range f.Machines {
		m := &f.Machines[i]
		m.ConnectionType = models.ConnectionType(strings.ToUpper(strings.TrimSpace(string(m.ConnectionType))))
		if m.ID == "" || m.Slug == "" || m.ConnectionType == "" {
			return nil, fmt.Errorf("seed file %q: machine #%d needs id, slug and connection_type", path, i+1)
		}
	}
	return f.Machines, nil
}

// Seed upserts every machine of the seed file and returns how many were written.
func Seed(ctx context.Context, reg MachineRegistry, path string) (int, error) {
	machines, err := LoadSeedFile(path)
	if err != nil {
		return 0, err
	}
	for _, m := range machines {
		if err := reg.Upsert(ctx, m); err != nil {
			return 0, err
		}
	}
	return len(machines), nil
}
