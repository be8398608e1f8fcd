package movement

import "time"

const (
	StatusInOffice    = "IN_OFFICE"
	StatusOutOfOffice = "OUT_OF_OFFICE"
	StatusOverdue     = "OVERDUE"
	StatusOnTime      = "ON_TIME"
)

// DeriveStatus computes a movement's status. A return exactly at the expected
// time is on time; for open movements the same holds against now.
func DeriveStatus(expectedReturn time.Time, actualReturn *time.Time, now time.Time) string {
	if actualReturn != nil {
		if actualReturn.After(expectedReturn) {
			return StatusOverdue
		}
		return StatusOnTime
	}
	if now.After(expectedReturn) {
		return StatusOverdue
	}
	return StatusOutOfOffice
}

// PresenceStatus is IN_OFFICE without an open movement, else the open movement's status.
func PresenceStatus(open *Log, now time.Time) string {
	if open == nil {
		return StatusInOffice
	}
	return DeriveStatus(open.ExpectedReturnTime, nil, now)
}
