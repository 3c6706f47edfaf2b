// Package store provides SQLite persistence for the equipment
// backend: the device roster, status and energy logs, reservations,
// alarms and users.
//
// The store is the database of record; the in-memory catalog is
// loaded from it at startup and written back through it. Access is
// serialized internally, so handlers never hold registry or catalog
// locks across a database call.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/campuseq/campuseq-go/pkg/catalog"
	"github.com/campuseq/campuseq-go/pkg/wire"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and bootstraps the
// schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes all queries and keeps ":memory:"
	// databases coherent.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS equipment (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		registration TEXT NOT NULL DEFAULT 'pending',
		status TEXT NOT NULL DEFAULT 'offline',
		power TEXT NOT NULL DEFAULT 'off',
		threshold_watts REAL NOT NULL DEFAULT 0,
		energy_total REAL NOT NULL DEFAULT 0,
		last_heartbeat DATETIME
	);

	CREATE TABLE IF NOT EXISTS status_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL REFERENCES equipment(id),
		status TEXT NOT NULL,
		power TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		password_hash TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS supervisions (
		teacher_id TEXT NOT NULL REFERENCES users(id),
		student_id TEXT NOT NULL REFERENCES users(id),
		PRIMARY KEY (teacher_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS places (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS place_equipment (
		place_id TEXT NOT NULL REFERENCES places(id),
		device_id TEXT NOT NULL REFERENCES equipment(id),
		PRIMARY KEY (place_id, device_id)
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		place_id TEXT NOT NULL REFERENCES places(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		start_time DATETIME NOT NULL,
		end_time DATETIME NOT NULL,
		purpose TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS energy_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL REFERENCES equipment(id),
		watts REAL NOT NULL,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS alarms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL REFERENCES equipment(id),
		watts REAL NOT NULL,
		threshold REAL NOT NULL,
		acked INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_status_log_device ON status_log(device_id);
	CREATE INDEX IF NOT EXISTS idx_reservations_place ON reservations(place_id);
	CREATE INDEX IF NOT EXISTS idx_energy_log_device ON energy_log(device_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_alarms_acked ON alarms(acked);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadEquipment reads the device roster for the catalog at startup.
func (s *Store) LoadEquipment() ([]catalog.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, type, location, registration, status, power,
		       threshold_watts, energy_total, last_heartbeat
		FROM equipment
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []catalog.Device
	for rows.Next() {
		var d catalog.Device
		var hb sql.NullTime
		if err := rows.Scan(
			&d.ID, &d.Type, &d.Location, &d.Registration, &d.Status,
			&d.Power, &d.ThresholdWatts, &d.EnergyTotal, &hb,
		); err != nil {
			return nil, err
		}
		if hb.Valid {
			d.LastHeartbeat = hb.Time
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// InsertEquipment adds a device to the roster. Used by provisioning
// tooling and tests; the running core only mutates existing rows.
func (s *Store) InsertEquipment(d catalog.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO equipment (id, type, location, registration, status, power, threshold_watts, energy_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.Type, d.Location, d.Registration, d.Status, d.Power, d.ThresholdWatts, d.EnergyTotal)
	return err
}

// UpdateDeviceState persists a device's status and power together.
func (s *Store) UpdateDeviceState(deviceID string, status wire.Status, power wire.Power) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE equipment SET status = ?, power = ?, last_heartbeat = ?
		WHERE id = ?
	`, status, power, time.Now(), deviceID)
	return err
}

// ResetAllDevices forces every device row to offline with power off,
// for the shutdown reset.
func (s *Store) ResetAllDevices() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE equipment SET status = 'offline', power = 'off'`)
	return err
}

// SetThreshold persists a per-device watt threshold.
func (s *Store) SetThreshold(deviceID string, watts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE equipment SET threshold_watts = ? WHERE id = ?`, watts, deviceID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("unknown device %q", deviceID)
	}
	return nil
}

// InsertStatusLog appends a status log row.
func (s *Store) InsertStatusLog(deviceID string, status wire.Status, power wire.Power, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO status_log (device_id, status, power, detail)
		VALUES (?, ?, ?, ?)
	`, deviceID, status, power, detail)
	return err
}

// User is one operator account.
type User struct {
	ID           string
	Name         string
	Role         wire.Role
	PasswordHash string
}

// GetUser retrieves a user by id. Returns nil, nil when absent.
func (s *Store) GetUser(id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u User
	err := s.db.QueryRow(`
		SELECT id, name, role, password_hash FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Name, &u.Role, &u.PasswordHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// InsertUser adds a user with a bcrypt-hashed password.
func (s *Store) InsertUser(id, name string, role wire.Role, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO users (id, name, role, password_hash) VALUES (?, ?, ?, ?)
	`, id, name, role, string(hash))
	return err
}

// Authenticate verifies a user's password. Returns nil, nil on an
// unknown user or wrong password; the caller replies with a generic
// failure either way.
func (s *Store) Authenticate(id, password string) (*User, error) {
	u, err := s.GetUser(id)
	if err != nil || u == nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, nil
	}
	return u, nil
}

// AddSupervision records that a teacher supervises a student.
func (s *Store) AddSupervision(teacherID, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO supervisions (teacher_id, student_id) VALUES (?, ?)
	`, teacherID, studentID)
	return err
}
