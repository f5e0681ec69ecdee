package alerts

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Equipment {{.StatusLabel}}]
Equipment: {{.EquipmentID}}
Reading Time: {{.Timestamp}}
Temp: {{.Temp}}
Vibration: {{.Vibration}}
Pressure: {{.Pressure}}
Diagnosis: {{.Diagnosis}}
Recommendation: {{.Recommendation}}
{{ if .ReportURL }}
Report: {{.ReportURL}}
{{ end }}`

// TemplateData provides fields for rendering alert content.
type TemplateData struct {
	EquipmentID    string
	ReadingID      int64
	Timestamp      string
	Temp           string
	Vibration      string
	Pressure       string
	Status         string
	StatusLabel    string
	Diagnosis      string
	Recommendation string
	AnalyzedAt     string
	ReportURL      string
}

// Template renders alert content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses an alert template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("equipment-alert").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
