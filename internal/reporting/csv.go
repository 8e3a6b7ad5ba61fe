package reporting

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/presetstore/pkg/entitlement"
)

var downloadsCSVHeader = []string{
	"User ID",
	"User Email",
	"Category",
	"Preset Name",
	"Filename",
	"Credit Cost",
	"Download Time",
}

// WriteDownloadsCSV renders download records as the admin export: one row per
// record, timestamps in ISO-8601.
func WriteDownloadsCSV(writer io.Writer, records []entitlement.DownloadRecord) error {
	csvWriter := csv.NewWriter(writer)
	if err := csvWriter.Write(downloadsCSVHeader); err != nil {
		return err
	}
	for _, record := range records {
		row := []string{
			record.UserID,
			record.UserEmail,
			record.Preset.Category(),
			record.PresetName,
			record.FileName,
			strconv.FormatInt(record.CreditsCharged.Int64(), 10),
			time.UnixMilli(record.DownloadedAtUnixMilli).UTC().Format(time.RFC3339),
		}
		if err := csvWriter.Write(row); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}
