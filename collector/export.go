package collector

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	ExportSheet       = "Planka Events"
	ExportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ExportHeaders is the column layout of the export, in order.
var ExportHeaders = []string{
	"ID",
	"时间",
	"类型",
	"卡片名",
	"Card ID",
	"操作人",
	"看板",
	"流转前列表",
	"流转后列表",
	"原始消息",
}

var exportColumnWidths = []float64{6, 20, 15, 30, 25, 15, 15, 15, 15, 50}

// ExportFilename names a download generated at now.
func ExportFilename(now time.Time) string {
	return fmt.Sprintf("planka_events_%s.xlsx", now.Format("20060102_150405"))
}

// ExportRow flattens one event into the export columns.
func ExportRow(ev Event) []any {
	return []any{
		int64(ev.ID),
		ev.ReceivedAt.Format("2006-01-02 15:04:05"),
		ev.EventType,
		ev.ItemName,
		derefOr(ev.CardID, ""),
		ev.UserName,
		ev.BoardName,
		derefOr(ev.FromList, ""),
		derefOr(ev.ToList, ""),
		payloadMessage(ev.RawPayload),
	}
}

// WriteWorkbook writes events as an xlsx document, one row per event in the given order.
func WriteWorkbook(w io.Writer, events []Event) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ExportSheet); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}

	header := make([]any, len(ExportHeaders))
	for i, h := range ExportHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(ExportSheet, "A1", &header); err != nil {
		return err
	}
	lastHeader, err := excelize.CoordinatesToCellName(len(ExportHeaders), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(ExportSheet, "A1", lastHeader, headerStyle); err != nil {
		return err
	}

	for i, ev := range events {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := ExportRow(ev)
		if err := f.SetSheetRow(ExportSheet, cell, &row); err != nil {
			return err
		}
	}

	for i, width := range exportColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(ExportSheet, col, col, width); err != nil {
			return err
		}
	}

	return f.Write(w)
}
