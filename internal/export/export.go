package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"autoposter/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Tasks"

var headers = []string{"Task", "Account", "Title", "Status", "Progress", "Scheduled (UTC)", "Broker state", "Error"}

var statusColors = map[models.TaskStatus]string{
	models.TaskPending:    "#FFF2CC",
	models.TaskProcessing: "#DDEBF7",
	models.TaskCompleted:  "#E2EFDA",
	models.TaskFailed:     "#F8CBAD",
	models.TaskStopped:    "#D9D9D9",
}

// Build renders the status view into a workbook. The caller closes it.
func Build(statuses []models.AutomationStatus) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#BDD7EE"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	styles := make(map[models.TaskStatus]int, len(statusColors))
	for status, color := range statusColors {
		styles[status], _ = f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
	}

	for i, st := range statuses {
		row := i + 2
		values := []interface{}{
			st.TaskID,
			st.AccountID,
			st.Title,
			string(st.Status),
			st.Progress,
			st.ScheduledTime.UTC().Format("2006-01-02 15:04:05"),
			st.BrokerState,
			st.Error,
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, start, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("error writing row %d: %w", row, err)
		}
		if style, ok := styles[st.Status]; ok {
			cell, _ := excelize.CoordinatesToCellName(4, row)
			_ = f.SetCellStyle(sheetName, cell, cell, style)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "B", 38)
	_ = f.SetColWidth(sheetName, "C", "C", 50)
	_ = f.SetColWidth(sheetName, "D", "G", 16)
	_ = f.SetColWidth(sheetName, "H", "H", 60)
	_ = f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	return f, nil
}

// Write streams the workbook to w.
func Write(w io.Writer, statuses []models.AutomationStatus) error {
	f, err := Build(statuses)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// FileName is the download name for a user's export taken at the given time.
func FileName(userID string, at time.Time) string {
	return fmt.Sprintf("tasks_%s_%s.xlsx", userID, at.UTC().Format("20060102_150405"))
}

// Save writes the workbook into dir and returns the file path.
func Save(dir, userID string, statuses []models.AutomationStatus, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := Build(statuses)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, FileName(userID, at))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}
