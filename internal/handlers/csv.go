package handlers

import (
	"encoding/csv"
	"io"
	"regexp"
	"time"

	"github.com/xelth-com/propcount/internal/models"
)

var sheetHeader = []string{
	"Property Number", "Description", "Office", "Status", "Condition", "Remarks",
	"Verified", "Verified By", "Verified At",
}

// sheetWriter writes the physical count sheet one asset per row.
type sheetWriter struct {
	w      *csv.Writer
	header bool
}

func newSheetWriter(w io.Writer) *sheetWriter {
	return &sheetWriter{w: csv.NewWriter(w)}
}

func (s *sheetWriter) Write(a models.Asset) error {
	if !s.header {
		s.header = true
		if err := s.w.Write(sheetHeader); err != nil {
			return err
		}
	}
	verified, by, at := "No", "", ""
	if a.Verified() {
		verified = "Yes"
	}
	if a.PhysicalCountDetails.VerifiedBy != nil {
		by = *a.PhysicalCountDetails.VerifiedBy
	}
	if a.PhysicalCountDetails.VerifiedAt != nil {
		at = a.PhysicalCountDetails.VerifiedAt.UTC().Format(time.RFC3339)
	}
	return s.w.Write([]string{
		a.PropertyNumber, a.Description, a.Office, string(a.Status), string(a.Condition), a.Remarks,
		verified, by, at,
	})
}

// Flush writes the header even for an empty sheet.
func (s *sheetWriter) Flush() error {
	if !s.header {
		s.header = true
		s.w.Write(sheetHeader)
	}
	s.w.Flush()
	return s.w.Error()
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func exportFilename(office string, now time.Time) string {
	name := "all-offices"
	if office != "" {
		name = unsafeFilename.ReplaceAllString(office, "_")
	}
	return "physical-count-" + name + "-" + now.Format("2006-01-02") + ".csv"
}
