// Package export writes attendance summaries as a spreadsheet.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/coffersTech/attendance/internal/model"
)

const sheet = "Attendance"

var header = []interface{}{"Person ID", "Name", "Alias ID", "Place ID", "Title", "First seen", "Last seen", "Detections"}

// timeLayout is used for the first/last seen columns.
const timeLayout = "2006-01-02 15:04:05"

// WriteSummaries writes one row per summary, in the given order, with
// timestamps rendered in loc.
func WriteSummaries(w io.Writer, summaries []model.PersonAttendanceSummary, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for i, s := range summaries {
		row := []interface{}{
			s.PersonID,
			s.PersonName,
			s.AliasID,
			s.PlaceID,
			s.Title,
			time.UnixMilli(s.FirstSeen).In(loc).Format(timeLayout),
			time.UnixMilli(s.LastSeen).In(loc).Format(timeLayout),
			s.Events,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	_, err := f.WriteTo(w)
	return err
}
