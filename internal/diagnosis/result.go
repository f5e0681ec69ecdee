package diagnosis

import (
	"encoding/json"
	"errors"
)

// Kind tags which variant a Result holds.
type Kind string

const (
	KindStructured    Kind = "structured"
	KindRawText       Kind = "raw_text"
	KindUpstreamError Kind = "upstream_error"
)

// Status values the model is asked to answer with.
const (
	StatusNormal  = "정상"
	StatusCaution = "주의"
	StatusThreat  = "위협"
)

// Result is the outcome of a diagnosis request. Exactly one variant is
// populated, selected by Kind.
type Result struct {
	Kind Kind

	// KindStructured
	Status         string
	Diagnosis      string
	Recommendation string

	// KindRawText
	Raw string

	// KindUpstreamError
	Error   string
	Message string
}

// Structured builds a result carrying the three expected fields.
func Structured(status, diagnosis, recommendation string) Result {
	return Result{Kind: KindStructured, Status: status, Diagnosis: diagnosis, Recommendation: recommendation}
}

// RawText wraps model output that did not match the expected JSON shape.
func RawText(text string) Result {
	return Result{Kind: KindRawText, Raw: text}
}

// UpstreamError describes a failed call to the hosted model.
func UpstreamError(reason string) Result {
	return Result{Kind: KindUpstreamError, Error: reason}
}

// IsThreat reports whether the model classified the reading as a threat.
func (r Result) IsThreat() bool {
	return r.Kind == KindStructured && r.Status == StatusThreat
}

type structuredJSON struct {
	Status         string `json:"status"`
	Diagnosis      string `json:"diagnosis"`
	Recommendation string `json:"recommendation"`
}

type rawJSON struct {
	RawAnalysis string `json:"raw_analysis"`
}

type errorJSON struct {
	Error    string `json:"error"`
	Analysis string `json:"analysis,omitempty"`
}

// MarshalJSON renders the wire shape of the active variant.
func (r Result) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindStructured:
		return json.Marshal(structuredJSON{Status: r.Status, Diagnosis: r.Diagnosis, Recommendation: r.Recommendation})
	case KindRawText:
		return json.Marshal(rawJSON{RawAnalysis: r.Raw})
	case KindUpstreamError:
		return json.Marshal(errorJSON{Error: r.Error, Analysis: r.Message})
	default:
		return nil, errors.New("diagnosis: result without kind")
	}
}

// UnmarshalJSON restores a stored result, picking the variant by its keys.
func (r *Result) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if _, ok := fields["error"]; ok {
		var payload errorJSON
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		*r = Result{Kind: KindUpstreamError, Error: payload.Error, Message: payload.Analysis}
		return nil
	}
	if _, ok := fields["raw_analysis"]; ok {
		var payload rawJSON
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		*r = RawText(payload.RawAnalysis)
		return nil
	}
	var payload structuredJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	*r = Structured(payload.Status, payload.Diagnosis, payload.Recommendation)
	return nil
}
