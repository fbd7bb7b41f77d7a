package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ROIEstimate is the return-on-investment breakdown attached to a
// completed assessment. The remote service has shipped it both as a
// structured object and as a bare descriptive string, so the decoder
// accepts either; the string form lands in Description.
type ROIEstimate struct {
	EstimatedDollars   float64 `json:"estimated_dollars,omitempty"`
	AnnualHoursSaved   float64 `json:"annual_hours_saved,omitempty"`
	TeamEfficiencyGain string  `json:"team_efficiency_gain,omitempty"`
	Description        string  `json:"description,omitempty"`
}

// UnmarshalJSON accepts either the object form or a bare string.
func (r *ROIEstimate) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("decode roi estimate string: %w", err)
		}
		*r = ROIEstimate{Description: s}
		return nil
	}

	type plain ROIEstimate
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return fmt.Errorf("decode roi estimate object: %w", err)
	}
	*r = ROIEstimate(p)
	return nil
}

// Result is the final readiness outcome of a completed session.
type Result struct {
	ReadinessScore float64     `json:"readiness_score"`
	ROIEstimate    ROIEstimate `json:"roi_estimate"`
	SummaryHTML    string      `json:"summary_html"`
}
