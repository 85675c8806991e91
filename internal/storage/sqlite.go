package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding policy rows and the vector
// collection. It is constructed once at process start and passed to
// whichever components need it.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "policyrag.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database for the vector collection, which
// shares the same SQLite file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Policies ---

const policyColumns = `id, user_id, policy_name, policy_number, insurance_company,
	policy_type, premium_amount, premium_frequency, coverage_amount,
	status, start_date, end_date, notes, documents`

// PolicyByID returns a single policy row.
func (s *Store) PolicyByID(ctx context.Context, id int64) (Policy, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+policyColumns+" FROM policies WHERE id = ?", id)

	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return Policy{}, ErrNotFound
	}
	if err != nil {
		return Policy{}, fmt.Errorf("querying policy %d: %w", id, err)
	}
	return p, nil
}

// PoliciesAfter returns all policies with id greater than afterID in
// ascending id order. Pass afterID <= 0 to fetch every policy.
func (s *Store) PoliciesAfter(ctx context.Context, afterID int64) ([]Policy, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if afterID > 0 {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+policyColumns+" FROM policies WHERE id > ? ORDER BY id ASC", afterID)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+policyColumns+" FROM policies ORDER BY id ASC")
	}
	if err != nil {
		return nil, fmt.Errorf("querying policies after %d: %w", afterID, err)
	}
	defer rows.Close()

	return collectPolicies(rows)
}

// PoliciesByUser returns all policies owned by the given user in
// ascending id order.
func (s *Store) PoliciesByUser(ctx context.Context, userID int64) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+policyColumns+" FROM policies WHERE user_id = ? ORDER BY id ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("querying policies for user %d: %w", userID, err)
	}
	defer rows.Close()

	return collectPolicies(rows)
}

// InsertPolicy adds a policy row and returns its assigned id.
// Production rows come from the external policy-management system;
// this exists for seeding and tests.
func (s *Store) InsertPolicy(ctx context.Context, p Policy) (int64, error) {
	docs, err := json.Marshal(p.Documents)
	if err != nil {
		return 0, fmt.Errorf("marshalling documents: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO policies (user_id, policy_name, policy_number, insurance_company,
			policy_type, premium_amount, premium_frequency, coverage_amount,
			status, start_date, end_date, notes, documents)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.PolicyName, p.PolicyNumber, p.InsuranceCompany,
		p.PolicyType, p.PremiumAmount, p.PremiumFrequency, p.CoverageAmount,
		p.Status, p.StartDate, p.EndDate, p.Notes, string(docs))
	if err != nil {
		return 0, fmt.Errorf("inserting policy: %w", err)
	}
	return res.LastInsertId()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (Policy, error) {
	var p Policy
	var docs string
	err := row.Scan(&p.ID, &p.UserID, &p.PolicyName, &p.PolicyNumber, &p.InsuranceCompany,
		&p.PolicyType, &p.PremiumAmount, &p.PremiumFrequency, &p.CoverageAmount,
		&p.Status, &p.StartDate, &p.EndDate, &p.Notes, &docs)
	if err != nil {
		return Policy{}, err
	}
	if docs != "" {
		if err := json.Unmarshal([]byte(docs), &p.Documents); err != nil {
			return Policy{}, fmt.Errorf("parsing documents for policy %d: %w", p.ID, err)
		}
	}
	return p, nil
}

func collectPolicies(rows *sql.Rows) ([]Policy, error) {
	var policies []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning policy row: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}
