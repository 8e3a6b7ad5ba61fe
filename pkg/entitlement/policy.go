package entitlement

import "fmt"

// GracePeriodMillis is the free-redownload window: a paid download keeps the
// same preset free to re-fetch for three days.
const GracePeriodMillis int64 = 3 * 24 * 60 * 60 * 1000

const (
	millisPerMinute int64 = 60 * 1000
	millisPerHour   int64 = 60 * millisPerMinute
	millisPerDay    int64 = 24 * millisPerHour
)

// ExpiredLabel is the remaining-time rendering for a lapsed window.
const ExpiredLabel = "Expired"

// IsExpired reports whether the free-redownload window for a download taken at
// downloadedAtUnixMilli has lapsed at nowUnixMilli.
func IsExpired(downloadedAtUnixMilli int64, nowUnixMilli int64) bool {
	return nowUnixMilli-downloadedAtUnixMilli > GracePeriodMillis
}

// RemainingLabel renders the time left in the free-redownload window. It reads
// "Expired" exactly when IsExpired reports true and decreases monotonically as
// now advances.
func RemainingLabel(downloadedAtUnixMilli int64, nowUnixMilli int64) string {
	if IsExpired(downloadedAtUnixMilli, nowUnixMilli) {
		return ExpiredLabel
	}
	remaining := GracePeriodMillis - (nowUnixMilli - downloadedAtUnixMilli)
	if days := remaining / millisPerDay; days > 0 {
		return pluralLabel(days, "day")
	}
	if hours := remaining / millisPerHour; hours > 0 {
		return pluralLabel(hours, "hour")
	}
	if minutes := remaining / millisPerMinute; minutes > 0 {
		return pluralLabel(minutes, "minute")
	}
	return "Less than a minute left"
}

func pluralLabel(count int64, unit string) string {
	if count == 1 {
		return fmt.Sprintf("1 %s left", unit)
	}
	return fmt.Sprintf("%d %ss left", count, unit)
}
