package models

import (
	"fmt"
	"time"
)

// QuotaPeriod represents how often a quota's usage resets
type QuotaPeriod string

const (
	QuotaPeriodHourly  QuotaPeriod = "hourly"
	QuotaPeriodDaily   QuotaPeriod = "daily"
	QuotaPeriodMonthly QuotaPeriod = "monthly"
	QuotaPeriodNone    QuotaPeriod = "none"
)

// ParseQuotaPeriod converts a string into a QuotaPeriod. Empty means none.
func ParseQuotaPeriod(s string) (QuotaPeriod, error) {
	switch p := QuotaPeriod(s); p {
	case QuotaPeriodHourly, QuotaPeriodDaily, QuotaPeriodMonthly, QuotaPeriodNone:
		return p, nil
	case "":
		return QuotaPeriodNone, nil
	default:
		return "", fmt.Errorf("unknown quota period %q", s)
	}
}

// Advance returns the reset time following t
func (p QuotaPeriod) Advance(t time.Time) time.Time {
	switch p {
	case QuotaPeriodHourly:
		return t.Add(time.Hour)
	case QuotaPeriodDaily:
		return t.AddDate(0, 0, 1)
	case QuotaPeriodMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t
	}
}

// Start returns the beginning of the period containing now
func (p QuotaPeriod) Start(now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case QuotaPeriodHourly:
		return now.Truncate(time.Hour)
	case QuotaPeriodDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case QuotaPeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return now
	}
}

// QuotaRecord tracks the usage allowance of one principal
type QuotaRecord struct {
	PrincipalID string      `json:"principal_id" db:"principal_id"`
	Total       int64       `json:"total" db:"total"`
	Used        int64       `json:"used" db:"used"`
	Reserved    int64       `json:"reserved" db:"reserved"`
	ResetAt     time.Time   `json:"reset_at" db:"reset_at"`
	Period      QuotaPeriod `json:"period" db:"period"`
}

// TableName returns the table name for the QuotaRecord model
func (QuotaRecord) TableName() string {
	return "quota_records"
}

// NewQuotaRecord creates a record whose first reset is at the end of the
// period containing now
func NewQuotaRecord(principalID string, total int64, period QuotaPeriod, now time.Time) *QuotaRecord {
	r := &QuotaRecord{
		PrincipalID: principalID,
		Total:       total,
		Period:      period,
	}
	if period != QuotaPeriodNone && period != "" {
		r.ResetAt = period.Advance(period.Start(now))
	}
	return r
}

// Available returns the units that can still be reserved
func (r *QuotaRecord) Available() int64 {
	return r.Total - r.Used - r.Reserved
}

// CanReserve reports whether amount more units fit in the quota
func (r *QuotaRecord) CanReserve(amount int64) bool {
	return r.Used+r.Reserved+amount <= r.Total
}

// Rollover resets usage when the period has elapsed. Outstanding
// reservations are kept. Returns true if a reset happened.
func (r *QuotaRecord) Rollover(now time.Time) bool {
	if r.Period == QuotaPeriodNone || r.Period == "" || r.ResetAt.IsZero() {
		return false
	}
	if now.Before(r.ResetAt) {
		return false
	}
	r.Used = 0
	for !now.Before(r.ResetAt) {
		r.ResetAt = r.Period.Advance(r.ResetAt)
	}
	return true
}
