package fusion

// MinutesUntil converts a positive-or-negative span of seconds into the
// minutes shown to a rider: never negative, partial minutes rounded up.
func MinutesUntil(deltaSeconds int64) int {
	if deltaSeconds <= 0 {
		return 0
	}
	return int((deltaSeconds + 59) / 60)
}

// DelayMinutes converts a delay in seconds into whole minutes toward
// zero, keeping the sign.
func DelayMinutes(deltaSeconds int) int {
	if deltaSeconds < 0 {
		return -((-deltaSeconds) / 60)
	}
	return deltaSeconds / 60
}
