package catalog

import (
	"encoding/json"
	"fmt"
)

// FilterValue is a tag value that manifests encode either as a single string
// or as a list of strings. All consumers normalize through ToList.
type FilterValue struct {
	scalar string
	list   []string
	isList bool
}

// ScalarFilter builds a single-valued filter.
func ScalarFilter(value string) FilterValue {
	return FilterValue{scalar: value}
}

// ListFilter builds a multi-valued filter.
func ListFilter(values ...string) FilterValue {
	return FilterValue{list: values, isList: true}
}

// ToList normalizes the value to a slice: one element for a scalar, every
// element for a list, empty for an unset value.
func (value FilterValue) ToList() []string {
	if value.isList {
		return value.list
	}
	if value.scalar == "" {
		return nil
	}
	return []string{value.scalar}
}

// UnmarshalJSON accepts either a JSON string or a JSON array of strings.
func (value *FilterValue) UnmarshalJSON(raw []byte) error {
	var scalar string
	if err := json.Unmarshal(raw, &scalar); err == nil {
		*value = ScalarFilter(scalar)
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		*value = ListFilter(list...)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidFilterValue, string(raw))
}

// MarshalJSON preserves the original shape.
func (value FilterValue) MarshalJSON() ([]byte, error) {
	if value.isList {
		return json.Marshal(value.list)
	}
	return json.Marshal(value.scalar)
}

// Filters carries the tag dimensions a preset can be filtered by.
type Filters struct {
	DAW    FilterValue `json:"daw"`
	Genre  FilterValue `json:"genre"`
	Gender FilterValue `json:"gender"`
	Plugin FilterValue `json:"plugin"`
}

// PresetManifest is the per-preset meta.json document served by the content
// store. Read-only from this application's perspective.
type PresetManifest struct {
	Preset PresetMeta `json:"preset"`
}

// PresetMeta is the preset description inside a manifest.
type PresetMeta struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Filters     Filters `json:"filters"`
}
