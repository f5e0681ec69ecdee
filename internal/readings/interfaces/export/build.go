package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"equipment-diagnosis/internal/diagnosis"
	readings "equipment-diagnosis/internal/readings/domain"
)

const timeLayout = time.RFC3339Nano

var columns = []string{"id", "timestamp", "equipment_id", "temp", "vibration", "pressure", "failure_type", "analysis"}

// WriteReadingsCSV writes one row per reading. The analysis column holds the
// diagnosis JSON, or is empty.
func WriteReadingsCSV(w io.Writer, list []readings.Reading) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return err
	}
	for _, reading := range list {
		analysis, err := analysisText(reading.Analysis)
		if err != nil {
			return err
		}
		if err := writer.Write([]string{
			strconv.FormatInt(reading.ID, 10),
			reading.Timestamp.UTC().Format(timeLayout),
			reading.EquipmentID,
			formatFloat(reading.Temp),
			formatFloat(reading.Vibration),
			formatFloat(reading.Pressure),
			strconv.Itoa(reading.FailureType),
			analysis,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// BuildReadingsXLSX renders readings into a workbook with a summary sheet.
func BuildReadingsXLSX(list []readings.Reading) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	readingsSheet := "readings"
	summarySheet := "summary"
	if err := f.SetSheetName("Sheet1", readingsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	for i, name := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(readingsSheet, cell, name)
	}
	failures := 0
	equipment := make(map[string]struct{})
	for i, reading := range list {
		row := i + 2
		analysis, err := analysisText(reading.Analysis)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("A%d", row), reading.ID)
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("B%d", row), reading.Timestamp.UTC().Format(timeLayout))
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("C%d", row), reading.EquipmentID)
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("D%d", row), reading.Temp)
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("E%d", row), reading.Vibration)
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("F%d", row), reading.Pressure)
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("G%d", row), reading.FailureType)
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("H%d", row), analysis)
		if reading.FailureType == readings.LabelFailure {
			failures++
		}
		equipment[reading.EquipmentID] = struct{}{}
	}

	_ = f.SetCellValue(summarySheet, "A1", "Equipment Readings")
	_ = f.SetCellValue(summarySheet, "A3", "Readings")
	_ = f.SetCellValue(summarySheet, "B3", len(list))
	_ = f.SetCellValue(summarySheet, "A4", "Equipment")
	_ = f.SetCellValue(summarySheet, "B4", len(equipment))
	_ = f.SetCellValue(summarySheet, "A5", "Failure Labels")
	_ = f.SetCellValue(summarySheet, "B5", failures)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReportPDF renders a one-page diagnosis report for a reading.
func BuildReportPDF(reading readings.Reading, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Equipment Diagnosis Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Equipment: %s", reading.EquipmentID)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Reading Time: %s", reading.Timestamp.UTC().Format(timeLayout)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(timeLayout)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 6, "Temp", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Vibration", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Pressure", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Failure Label", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(45, 6, formatFloat(reading.Temp), "1", 0, "R", false, 0, "")
	pdf.CellFormat(45, 6, formatFloat(reading.Vibration), "1", 0, "R", false, 0, "")
	pdf.CellFormat(45, 6, formatFloat(reading.Pressure), "1", 0, "R", false, 0, "")
	pdf.CellFormat(45, 6, strconv.Itoa(reading.FailureType), "1", 0, "C", false, 0, "")
	pdf.Ln(10)

	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, "Analysis")
	pdf.Ln(6)
	pdf.SetFont("Arial", "", 10)
	for _, line := range analysisLines(reading.Analysis) {
		pdf.MultiCell(0, 5, tr(line), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func analysisLines(result *diagnosis.Result) []string {
	if result == nil {
		return []string{"Not analyzed yet."}
	}
	switch result.Kind {
	case diagnosis.KindStructured:
		return []string{
			"Status: " + statusLabel(result.Status),
			"Diagnosis: " + result.Diagnosis,
			"Recommendation: " + result.Recommendation,
		}
	case diagnosis.KindRawText:
		return []string{result.Raw}
	default:
		lines := []string{"Upstream error: " + result.Error}
		if result.Message != "" {
			lines = append(lines, result.Message)
		}
		return lines
	}
}

// statusLabel keeps the Korean status readable for core PDF fonts.
func statusLabel(status string) string {
	switch status {
	case diagnosis.StatusThreat:
		return "Threat"
	case diagnosis.StatusCaution:
		return "Caution"
	case diagnosis.StatusNormal:
		return "Normal"
	default:
		return status
	}
}

func analysisText(result *diagnosis.Result) (string, error) {
	if result == nil {
		return "", nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
