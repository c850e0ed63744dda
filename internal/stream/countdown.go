package stream

import "time"

// DefaultWithdrawalEligibilityDays matches the on-chain inactivity window for employer emergency withdrawal.
const DefaultWithdrawalEligibilityDays = 30

// DaysUntilEmployerWithdrawal returns the advisory countdown, in days, before the employer may
// execute an emergency withdrawal. It returns nil when there is no activity baseline yet.
// Calendar days are counted in loc (UTC when nil).
func DaysUntilEmployerWithdrawal(lastActivityAt *time.Time, now time.Time, thresholdDays int, loc *time.Location) *int {
	if lastActivityAt == nil {
		return nil
	}
	elapsed := CalendarDaysBetween(now, *lastActivityAt, loc)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := thresholdDays - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// CalendarDaysBetween counts calendar-day boundaries from earlier to later in loc.
// The result is negative when earlier falls on a later calendar day.
func CalendarDaysBetween(later, earlier time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	ly, lm, ld := later.In(loc).Date()
	ey, em, ed := earlier.In(loc).Date()
	a := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
	b := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(a.Sub(b) / (24 * time.Hour))
}

// EmergencyWithdrawEligible mirrors the program's check that at least thresholdDays*86400 seconds
// have passed since the last employee activity. It is advisory only.
func EmergencyWithdrawEligible(lastActivityAt *time.Time, now time.Time, thresholdDays int) bool {
	if lastActivityAt == nil {
		return false
	}
	return now.Sub(*lastActivityAt) >= time.Duration(thresholdDays)*24*time.Hour
}

// LatestActivity returns the most recent LastActivityAt across snapshots, or nil when none has one.
func LatestActivity(snapshots []Snapshot) *time.Time {
	var latest *time.Time
	for i := range snapshots {
		at := snapshots[i].LastActivityAt
		if at == nil {
			continue
		}
		if latest == nil || at.After(*latest) {
			t := *at
			latest = &t
		}
	}
	return latest
}
