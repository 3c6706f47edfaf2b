package store

import (
	"time"
)

// Sample caps for query replies; the wire protocol carries whole
// result sets in one frame, so replies stay well under the frame cap.
const (
	maxEnergyRows = 200
	maxAlarmRows  = 200
)

// EnergyRecord is one aggregated energy bucket.
type EnergyRecord struct {
	DeviceID string
	Bucket   string
	Watts    float64
	Samples  int
}

// Alarm is one power threshold breach.
type Alarm struct {
	ID        int64
	DeviceID  string
	Watts     float64
	Threshold float64
	Acked     bool
	CreatedAt time.Time
}

// InsertEnergy appends a power sample and accumulates the device's
// energy total in one step.
func (s *Store) InsertEnergy(deviceID string, watts, wattHours float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`
		INSERT INTO energy_log (device_id, watts) VALUES (?, ?)
	`, deviceID, watts); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		UPDATE equipment SET energy_total = energy_total + ? WHERE id = ?
	`, wattHours, deviceID)
	return err
}

// EnergyByHour aggregates power samples per device and hour, newest
// first. An empty deviceID aggregates across all devices.
func (s *Store) EnergyByHour(deviceID string) ([]EnergyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT device_id, strftime('%Y-%m-%d %H:00', recorded_at) AS bucket,
		       AVG(watts), COUNT(*)
		FROM energy_log
	`
	var args []any
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += `
		GROUP BY device_id, bucket
		ORDER BY bucket DESC
		LIMIT ?
	`
	args = append(args, maxEnergyRows)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EnergyRecord
	for rows.Next() {
		var r EnergyRecord
		if err := rows.Scan(&r.DeviceID, &r.Bucket, &r.Watts, &r.Samples); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertAlarm records a threshold breach and returns its id.
func (s *Store) InsertAlarm(deviceID string, watts, threshold float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO alarms (device_id, watts, threshold) VALUES (?, ?, ?)
	`, deviceID, watts, threshold)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListUnackedAlarms returns unacknowledged alarms, oldest first.
func (s *Store) ListUnackedAlarms() ([]Alarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, device_id, watts, threshold, acked, created_at
		FROM alarms WHERE acked = 0 ORDER BY id LIMIT ?
	`, maxAlarmRows)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alarm
	for rows.Next() {
		var a Alarm
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.Watts, &a.Threshold, &a.Acked, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AckAlarm marks an alarm acknowledged. Returns false when no
// unacknowledged alarm with that id exists.
func (s *Store) AckAlarm(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE alarms SET acked = 1 WHERE id = ? AND acked = 0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
