package models

import "time"

// MaintenanceWindow declares a time range during which anomaly signals on
// the listed devices are suppressed from opening incidents. An empty
// DeviceIDs list covers all devices.
type MaintenanceWindow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Recurrence  string    `json:"recurrence"` // "once", "daily", "weekly", "monthly"
	DeviceIDs   []string  `json:"device_ids"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CoversDevice reports whether the window applies to the given device.
func (w *MaintenanceWindow) CoversDevice(deviceID string) bool {
	if len(w.DeviceIDs) == 0 {
		return true
	}
	for _, id := range w.DeviceIDs {
		if id == deviceID {
			return true
		}
	}
	return false
}

// ActiveAt reports whether the window is in effect at t, accounting for
// recurrence. Disabled windows are never active.
func (w *MaintenanceWindow) ActiveAt(t time.Time) bool {
	if !w.Enabled {
		return false
	}
	switch w.Recurrence {
	case "", "once":
		return !t.Before(w.StartTime) && !t.After(w.EndTime)
	case "daily":
		return timeOfDayInRange(t, w.StartTime, w.EndTime)
	case "weekly":
		return t.Weekday() == w.StartTime.Weekday() && timeOfDayInRange(t, w.StartTime, w.EndTime)
	case "monthly":
		return t.Day() == w.StartTime.Day() && timeOfDayInRange(t, w.StartTime, w.EndTime)
	default:
		return false
	}
}

// timeOfDayInRange checks whether the time-of-day of t falls within the
// time-of-day range defined by start and end. Supports midnight crossing
// (e.g., 22:00-02:00).
func timeOfDayInRange(t, start, end time.Time) bool {
	tSec := secondsOfDay(t)
	startSec := secondsOfDay(start)
	endSec := secondsOfDay(end)
	if startSec <= endSec {
		return tSec >= startSec && tSec <= endSec
	}
	return tSec >= startSec || tSec <= endSec
}

func secondsOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}
