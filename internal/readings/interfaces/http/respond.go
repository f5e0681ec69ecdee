package http

import (
	"encoding/json"
	"net/http"
	"time"

	"equipment-diagnosis/internal/diagnosis"
	readings "equipment-diagnosis/internal/readings/domain"
)

const timeLayout = time.RFC3339Nano

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON encodes body before committing the status, so a value that
// cannot be encoded becomes a 500 error body instead of an empty 200.
func writeJSON(w http.ResponseWriter, status int, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		data, _ = json.Marshal(errorBody{Error: "encoding_error", Message: "response could not be encoded"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
	return err
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	_ = writeJSON(w, status, errorBody{Error: code, Message: message})
}

type readingRow struct {
	Timestamp   string            `json:"timestamp"`
	EquipmentID string            `json:"equipment_id"`
	Temp        float64           `json:"temp"`
	Vibration   float64           `json:"vibration"`
	Pressure    float64           `json:"pressure"`
	FailureType int               `json:"failure_type"`
	Analysis    *diagnosis.Result `json:"analysis"`
}

func toReadingRow(reading readings.Reading) readingRow {
	return readingRow{
		Timestamp:   reading.Timestamp.UTC().Format(timeLayout),
		EquipmentID: reading.EquipmentID,
		Temp:        reading.Temp,
		Vibration:   reading.Vibration,
		Pressure:    reading.Pressure,
		FailureType: reading.FailureType,
		Analysis:    reading.Analysis,
	}
}
