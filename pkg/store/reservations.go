package store

import (
	"fmt"
	"time"

	"github.com/campuseq/campuseq-go/pkg/wire"
)

// Reservation statuses.
const (
	ReservationPending  = "pending"
	ReservationApproved = "approved"
	ReservationRejected = "rejected"
)

// Reservation is one place booking.
type Reservation struct {
	ID      int64
	PlaceID string
	UserID  string
	Start   time.Time
	End     time.Time
	Purpose string
	Status  string
}

// Place is one bookable location with its attached equipment.
type Place struct {
	ID        string
	Name      string
	DeviceIDs []string
}

// InsertPlace adds a place to the roster.
func (s *Store) InsertPlace(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO places (id, name) VALUES (?, ?)`, id, name)
	return err
}

// AttachEquipment links a device to a place.
func (s *Store) AttachEquipment(placeID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO place_equipment (place_id, device_id) VALUES (?, ?)
	`, placeID, deviceID)
	return err
}

// ListPlaces returns all places with their attached device ids.
func (s *Store) ListPlaces() ([]Place, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, name FROM places ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var places []Place
	for rows.Next() {
		var p Place
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		places = append(places, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range places {
		devRows, err := s.db.Query(`
			SELECT device_id FROM place_equipment WHERE place_id = ? ORDER BY device_id
		`, places[i].ID)
		if err != nil {
			return nil, err
		}
		for devRows.Next() {
			var id string
			if err := devRows.Scan(&id); err != nil {
				devRows.Close()
				return nil, err
			}
			places[i].DeviceIDs = append(places[i].DeviceIDs, id)
		}
		if err := devRows.Err(); err != nil {
			devRows.Close()
			return nil, err
		}
		devRows.Close()
	}
	return places, nil
}

// HasOverlap reports whether a non-rejected reservation for the place
// overlaps the [start, end) window.
func (s *Store) HasOverlap(placeID string, start, end time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM reservations
		WHERE place_id = ? AND status != ?
		  AND start_time < ? AND end_time > ?
	`, placeID, ReservationRejected, end, start).Scan(&n)
	return n > 0, err
}

// InsertReservation records a pending reservation and returns its id.
// The place and user must exist; overlap checking is the caller's job.
func (s *Store) InsertReservation(placeID, userID string, start, end time.Time, purpose string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM places WHERE id = ?`, placeID).Scan(&exists); err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, fmt.Errorf("unknown place %q", placeID)
	}

	res, err := s.db.Exec(`
		INSERT INTO reservations (place_id, user_id, start_time, end_time, purpose, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, placeID, userID, start, end, purpose, ReservationPending)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListReservations returns the reservations visible to a user:
// admins see everything, teachers see their own plus their supervised
// students', students see only their own.
func (s *Store) ListReservations(u *User) ([]Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, place_id, user_id, start_time, end_time, purpose, status
		FROM reservations
	`
	var args []any
	switch u.Role {
	case wire.RoleAdmin:
	case wire.RoleTeacher:
		query += `
		WHERE user_id = ?
		   OR user_id IN (SELECT student_id FROM supervisions WHERE teacher_id = ?)
		`
		args = append(args, u.ID, u.ID)
	default:
		query += ` WHERE user_id = ?`
		args = append(args, u.ID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.PlaceID, &r.UserID, &r.Start, &r.End, &r.Purpose, &r.Status); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateReservationStatus approves or rejects a pending reservation,
// keyed by reservation id and place id together. Returns false when no
// pending reservation matches.
func (s *Store) UpdateReservationStatus(id int64, placeID, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE reservations SET status = ? WHERE id = ? AND place_id = ? AND status = ?
	`, status, id, placeID, ReservationPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
