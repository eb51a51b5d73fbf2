// Package report exports course progressions as spreadsheets.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/progression"
)

// SheetName is the worksheet holding the progression rows.
const SheetName = "Progressions"

// Header lists the report columns in order.
var Header = []any{"User", "Assigned by", "Percentage", "Status", "Completed", "Last viewed"}

// WriteProgressions writes an XLSX workbook with one row per learner of c.
func WriteProgressions(w io.Writer, c *course.Course, ps []progression.Progression) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}

	total := course.SubchapterCount(c)
	for i, p := range ps {
		lastViewed := ""
		if sc, err := course.FindSubChapter(c, p.LastViewedSubchapter); err == nil {
			lastViewed = sc.Title
		}
		row := []any{
			p.UserID,
			p.AssignedBy,
			progression.CompletionPercentage(p, c),
			string(progression.StatusOf(p)),
			fmt.Sprintf("%d/%d", len(p.CompletedSubchapters), total),
			lastViewed,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("writing row for %s: %w", p.UserID, err)
		}
	}

	if err := f.SetColWidth(SheetName, "A", "F", 18); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
