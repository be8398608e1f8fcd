package reports

import (
	"encoding/csv"
	"io"
	"strings"
	"time"

	"evaltrack/internal/domain/movement"
)

var movementHeader = []string{
	"Employee ID",
	"Employee Name",
	"Department",
	"Category",
	"Destination",
	"Reason",
	"Departure",
	"Expected Return",
	"Actual Return",
	"Status",
}

// WriteMovementsCSV writes one row per movement. Status is derived against now,
// so stored hints never reach the export.
func WriteMovementsCSV(w io.Writer, logs []movement.Log, now time.Time) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(movementHeader); err != nil {
		return err
	}
	for _, m := range logs {
		actual := ""
		if m.ActualReturnTimestamp != nil {
			actual = formatTime(*m.ActualReturnTimestamp)
		}
		row := []string{
			m.EmployeeID,
			m.EmployeeName,
			m.Department,
			m.Category,
			m.Destination,
			strings.Join(strings.Fields(m.Reason), " "),
			formatTime(m.DepartureTimestamp),
			formatTime(m.ExpectedReturnTime),
			actual,
			movement.DeriveStatus(m.ExpectedReturnTime, m.ActualReturnTimestamp, now),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
