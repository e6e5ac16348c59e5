package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
)

const (
	SessionsSheet = "Sessions"
	RecordsSheet  = "Records"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	sessionHeadings = []interface{}{"Session", "Date", "Performed By", "Created At", "All Matched", "Mismatches", "Total Difference"}
	recordHeadings  = []interface{}{"Session", "Entry", "Manufacturer", "Brand", "Size", "System Stock", "Actual Stock", "Difference", "Reason", "Performed By", "Created At"}
)

// HistoryWorkbook lays out reconstructed sessions on one sheet and every
// mismatch record (or the sentinel of an all-matched session) on another.
func HistoryWorkbook(sessions []domain.AuditSession) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", SessionsSheet); err != nil {
		return nil, fmt.Errorf("f.SetSheetName -> %w", err)
	}
	if _, err := f.NewSheet(RecordsSheet); err != nil {
		return nil, fmt.Errorf("f.NewSheet -> %w", err)
	}

	if err := setRow(f, SessionsSheet, 1, sessionHeadings); err != nil {
		return nil, err
	}
	if err := setRow(f, RecordsSheet, 1, recordHeadings); err != nil {
		return nil, err
	}

	recordRow := 2
	for i, s := range sessions {
		err := setRow(f, SessionsSheet, i+2, []interface{}{
			sessionLabel(s),
			s.Date.Format("2006-01-02"),
			s.PerformedBy,
			s.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			s.AllMatched,
			s.MismatchCount,
			s.TotalDifference,
		})
		if err != nil {
			return nil, err
		}

		records := s.Mismatches
		if s.AllMatched {
			records = s.Records
		}
		for _, r := range records {
			reason := ""
			if r.Reason != nil {
				reason = *r.Reason
			}
			err := setRow(f, RecordsSheet, recordRow, []interface{}{
				sessionLabel(s),
				r.InventoryEntryID,
				r.Manufacturer,
				r.Brand,
				r.Size,
				r.SystemStock,
				r.ActualStock,
				r.Difference,
				reason,
				r.PerformedBy,
				r.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			})
			if err != nil {
				return nil, err
			}
			recordRow++
		}
	}

	return f, nil
}

func WriteHistory(w io.Writer, sessions []domain.AuditSession) error {
	f, err := HistoryWorkbook(sessions)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("f.Write -> %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("excelize.CoordinatesToCellName -> %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("f.SetSheetRow -> %w", err)
	}
	return nil
}

func sessionLabel(s domain.AuditSession) string {
	if s.SessionID != "" {
		return s.SessionID
	}
	return s.Key
}
