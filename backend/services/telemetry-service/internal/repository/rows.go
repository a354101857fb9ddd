package repository

import (
	"strconv"
	"strings"
	"time"

	"gridwatch/backend/services/telemetry-service/internal/models"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"

	faultYes    = "YES"
	faultNo     = "NO"
	noFaultType = "None"
)

// Header is the fixed column layout of the log sheet.
var Header = []string{"Date", "Time", "R_V", "Y_V", "B_V", "R_I", "Y_I", "B_I", "Fault", "Fault_Type"}

var columnWidths = []float64{12, 10, 8, 8, 8, 8, 8, 8, 8, 15}

func encodeRow(rec models.TelemetryRecord) []interface{} {
	ts := rec.CapturedAt.UTC()
	fault := faultNo
	if rec.Fault {
		fault = faultYes
	}
	faultType := noFaultType
	if rec.Fault && strings.TrimSpace(rec.FaultType) != "" {
		faultType = rec.FaultType
	}
	return []interface{}{
		ts.Format(dateLayout),
		ts.Format(timeLayout),
		formatReading(rec.RV, 2),
		formatReading(rec.YV, 2),
		formatReading(rec.BV, 2),
		formatReading(rec.RI, 3),
		formatReading(rec.YI, 3),
		formatReading(rec.BI, 3),
		fault,
		faultType,
	}
}

func formatReading(r models.Reading, prec int) string {
	if !r.Valid() {
		return ""
	}
	return strconv.FormatFloat(float64(r), 'f', prec, 64)
}

// decodeRow converts one sheet row back into a record. Cells that do not parse are kept
// as invalid readings so that aggregations can skip them individually. Rows with no
// content report false.
func decodeRow(cells []string) (models.TelemetryRecord, bool) {
	cell := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}

	empty := true
	for i := range Header {
		if cell(i) != "" {
			empty = false
			break
		}
	}
	if empty {
		return models.TelemetryRecord{}, false
	}

	rec := models.TelemetryRecord{
		CapturedAt: parseTimestamp(cell(0), cell(1)),
		RV:         parseReading(cell(2)),
		YV:         parseReading(cell(3)),
		BV:         parseReading(cell(4)),
		RI:         parseReading(cell(5)),
		YI:         parseReading(cell(6)),
		BI:         parseReading(cell(7)),
		Fault:      strings.EqualFold(cell(8), faultYes),
	}
	if ft := cell(9); rec.Fault && ft != "" && ft != noFaultType {
		rec.FaultType = ft
	}
	return rec, true
}

func parseReading(s string) models.Reading {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return models.InvalidReading()
	}
	return models.Reading(v)
}

// parseTimestamp returns the zero time when the date cell is unusable.
func parseTimestamp(date, clock string) time.Time {
	if clock != "" {
		if ts, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+clock, time.UTC); err == nil {
			return ts
		}
	}
	if ts, err := time.ParseInLocation(dateLayout, date, time.UTC); err == nil {
		return ts
	}
	return time.Time{}
}
