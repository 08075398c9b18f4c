package http

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alerts "sensorfleet-cloud/internal/alerts/domain"
	"sensorfleet-cloud/internal/observability/metrics"
)

const exportLimit = 10000

// handleExport serves GET /api/v1/alerts/export. The format query
// picks csv, xlsx or pdf; filters match the list endpoint.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	switch format {
	case "csv", "xlsx", "pdf":
	default:
		http.Error(w, "format must be csv, xlsx or pdf", http.StatusBadRequest)
		return
	}

	filter, err := parseListFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filter.Limit = exportLimit

	started := time.Now()
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		metrics.ObserveAlertExport(format, "error", time.Since(started))
		http.Error(w, "list alerts error", http.StatusInternalServerError)
		return
	}

	var (
		payload     []byte
		contentType string
	)
	switch format {
	case "csv":
		payload, err = BuildAlertsCSV(list)
		contentType = "text/csv; charset=utf-8"
	case "xlsx":
		payload, err = BuildAlertsXLSX(list)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		payload, err = BuildAlertsPDF(list)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveAlertExport(format, "error", time.Since(started))
		http.Error(w, "render export error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=alerts-%s.%s", time.Now().UTC().Format("20060102-150405"), format))
	_, _ = w.Write(payload)
	metrics.ObserveAlertExport(format, "ok", time.Since(started))
}

// BuildAlertsCSV renders the alert list as CSV.
func BuildAlertsCSV(list []alerts.Alert) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	_ = writer.Write([]string{
		"id",
		"device_id",
		"sensor_id",
		"sensor_rule_id",
		"location_id",
		"severity",
		"status",
		"message",
		"value",
		"triggered_at",
		"acknowledged_at",
		"acknowledged_by",
		"resolved_at",
		"resolved_by",
		"escalation_level",
	})
	for _, alert := range list {
		_ = writer.Write([]string{
			alert.ID,
			alert.DeviceID,
			alert.SensorID,
			alert.SensorRuleID,
			alert.LocationID,
			alert.Severity,
			alert.Status,
			alert.Message,
			strconv.FormatFloat(alert.Value, 'f', -1, 64),
			formatTime(alert.TriggeredAt),
			formatTime(alert.AcknowledgedAt),
			alert.AcknowledgedBy,
			formatTime(alert.ResolvedAt),
			alert.ResolvedBy,
			strconv.Itoa(alert.EscalationLevel),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertsXLSX renders a workbook with a summary sheet and the full
// alert list.
func BuildAlertsXLSX(list []alerts.Alert) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	alertsSheet := "alerts"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(alertsSheet)

	byStatus := map[string]int{}
	bySeverity := map[string]int{}
	for _, alert := range list {
		byStatus[alert.Status]++
		bySeverity[alert.Severity]++
	}

	_ = f.SetCellValue(summarySheet, "A1", "Alert Export")
	_ = f.SetCellValue(summarySheet, "A3", "Generated")
	_ = f.SetCellValue(summarySheet, "B3", time.Now().UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Total")
	_ = f.SetCellValue(summarySheet, "B4", len(list))
	row := 6
	for _, status := range []string{alerts.StatusActive, alerts.StatusAcknowledged, alerts.StatusResolved} {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), status)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), byStatus[status])
		row++
	}
	row++
	for _, severity := range []string{"low", "medium", "high", "critical"} {
		if bySeverity[severity] == 0 {
			continue
		}
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), severity)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), bySeverity[severity])
		row++
	}

	headers := []string{"ID", "Device", "Sensor", "Rule", "Location", "Severity", "Status", "Message", "Value", "Triggered", "Acknowledged", "Acknowledged By", "Resolved", "Resolved By", "Escalation"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(alertsSheet, cell, header)
	}
	for i, alert := range list {
		values := []any{
			alert.ID,
			alert.DeviceID,
			alert.SensorID,
			alert.SensorRuleID,
			alert.LocationID,
			alert.Severity,
			alert.Status,
			alert.Message,
			alert.Value,
			formatTime(alert.TriggeredAt),
			formatTime(alert.AcknowledgedAt),
			alert.AcknowledgedBy,
			formatTime(alert.ResolvedAt),
			alert.ResolvedBy,
			alert.EscalationLevel,
		}
		for j, value := range values {
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(alertsSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertsPDF renders a compact PDF table of the alert list.
func BuildAlertsPDF(list []alerts.Alert) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alert Export")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Alerts: %d", len(list)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(38, 6, "Triggered", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(24, 6, "Value", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Message", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, alert := range list {
		pdf.CellFormat(38, 6, alert.TriggeredAt.UTC().Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(28, 6, truncate(alert.DeviceID, 16), "1", 0, "L", false, 0, "")
		pdf.CellFormat(22, 6, alert.Severity, "1", 0, "C", false, 0, "")
		pdf.CellFormat(28, 6, alert.Status, "1", 0, "C", false, 0, "")
		pdf.CellFormat(24, 6, fmt.Sprintf("%.3f", alert.Value), "1", 0, "R", false, 0, "")
		pdf.CellFormat(50, 6, truncate(alert.Message, 30), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max-1] + "~"
}
