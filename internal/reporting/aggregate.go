package reporting

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/presetstore/internal/catalog"
)

// ErrInvalidWindow marks an unknown reporting window label.
var ErrInvalidWindow = errors.New("invalid reporting window")

// Window is a fixed reporting time span ending now.
type Window string

const (
	WindowToday Window = "today"
	Window7d    Window = "7d"
	Window30d   Window = "30d"
	Window1y    Window = "1y"
)

// ParseWindow validates a raw window label.
func ParseWindow(raw string) (Window, error) {
	switch Window(raw) {
	case WindowToday, Window7d, Window30d, Window1y:
		return Window(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidWindow, raw)
	}
}

// Days returns how many daily buckets the window spans.
func (window Window) Days() int {
	switch window {
	case WindowToday:
		return 1
	case Window7d:
		return 7
	case Window30d:
		return 30
	case Window1y:
		return 365
	default:
		return 0
	}
}

// FrequencyTable counts occurrences per tag value.
type FrequencyTable map[string]int

// FilterFrequencies are per-dimension tag counts over a preset collection.
type FilterFrequencies struct {
	DAW    FrequencyTable
	Genre  FrequencyTable
	Gender FrequencyTable
	Plugin FrequencyTable
}

// CountFilters folds preset manifests into per-dimension frequency tables. A
// list-valued tag contributes one count per element, not one per preset.
func CountFilters(manifests []catalog.PresetManifest) FilterFrequencies {
	frequencies := FilterFrequencies{
		DAW:    make(FrequencyTable),
		Genre:  make(FrequencyTable),
		Gender: make(FrequencyTable),
		Plugin: make(FrequencyTable),
	}
	for _, manifest := range manifests {
		countValues(frequencies.DAW, manifest.Preset.Filters.DAW)
		countValues(frequencies.Genre, manifest.Preset.Filters.Genre)
		countValues(frequencies.Gender, manifest.Preset.Filters.Gender)
		countValues(frequencies.Plugin, manifest.Preset.Filters.Plugin)
	}
	return frequencies
}

func countValues(table FrequencyTable, value catalog.FilterValue) {
	for _, entry := range value.ToList() {
		table[entry]++
	}
}

// DayBucket is one day's event count.
type DayBucket struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Series is a daily bucketed count over a window plus the window total.
type Series struct {
	Buckets []DayBucket `json:"buckets"`
	Total   int         `json:"total"`
}

// BucketByDay reduces event timestamps (epoch millis) into zero-filled daily
// buckets covering the window and ending on the day containing now. Events
// outside the window are ignored.
func BucketByDay(timesUnixMilli []int64, window Window, nowUnixMilli int64) Series {
	days := window.Days()
	endDay := time.UnixMilli(nowUnixMilli).UTC().Truncate(24 * time.Hour)
	startDay := endDay.AddDate(0, 0, -(days - 1))

	counts := make(map[string]int, days)
	total := 0
	for _, eventUnixMilli := range timesUnixMilli {
		eventDay := time.UnixMilli(eventUnixMilli).UTC().Truncate(24 * time.Hour)
		if eventDay.Before(startDay) || eventDay.After(endDay) {
			continue
		}
		counts[eventDay.Format(time.DateOnly)]++
		total++
	}

	buckets := make([]DayBucket, 0, days)
	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		date := day.Format(time.DateOnly)
		buckets = append(buckets, DayBucket{Date: date, Count: counts[date]})
	}
	return Series{Buckets: buckets, Total: total}
}
