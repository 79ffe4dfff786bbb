package utils

import "time"

const DayFormat = "2006-01-02"

// TruncatePeriod returns the bucket label for a timestamp at the given
// granularity. Unknown granularities fall back to day.
func TruncatePeriod(t time.Time, groupBy string) string {
	switch groupBy {
	case "year":
		return t.UTC().Format("2006")
	case "month":
		return t.UTC().Format("2006-01")
	default:
		return t.UTC().Format(DayFormat)
	}
}

// ParseDay parses a YYYY-MM-DD date string.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayFormat, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
