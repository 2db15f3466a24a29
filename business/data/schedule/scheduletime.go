package schedule

import (
	"time"
)

// dstTransitionSeconds returns the offset change, in seconds, that a
// daylight saving transition applies between midnight and 5am of the day
// anchored at timeAt12.
func dstTransitionSeconds(timeAt12 time.Time) int {
	before := time.Date(timeAt12.Year(), timeAt12.Month(), timeAt12.Day(), 0, 0, 0, 0, timeAt12.Location())
	after := time.Date(timeAt12.Year(), timeAt12.Month(), timeAt12.Day(), 5, 0, 0, 0, timeAt12.Location())
	_, beforeOffset := before.Zone()
	_, afterOffset := after.Zone()
	return afterOffset - beforeOffset
}

// MakeScheduleTime produces an absolute time by adding schedule seconds
// to a service day anchor, compensating for daylight saving transitions
// so "08:00:00" stays 8am local on transition days.
func MakeScheduleTime(timeAt12 time.Time, scheduleSeconds int) time.Time {
	offset := dstTransitionSeconds(timeAt12)
	scheduleSeconds = scheduleSeconds + (0 - offset)
	return timeAt12.Add(time.Duration(scheduleSeconds) * time.Second)
}

// ServiceDayAnchor returns midnight of the YYYYMMDD service date in loc.
func ServiceDayAnchor(date string, loc *time.Location) (time.Time, error) {
	parsed, err := time.ParseInLocation("20060102", date, loc)
	if err != nil {
		return time.Time{}, err
	}
	return parsed, nil
}

// NextServiceDate returns the YYYYMMDD date days after date in loc.
func NextServiceDate(date string, days int, loc *time.Location) (string, error) {
	anchor, err := ServiceDayAnchor(date, loc)
	if err != nil {
		return "", err
	}
	return anchor.AddDate(0, 0, days).Format("20060102"), nil
}
