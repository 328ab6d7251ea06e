package progressws

import "voxelmesh.ai/internal/export/report"

// Version is the progress protocol version.
const Version = "0.1"

// Server -> Client. Sent on connect and whenever the phase or the
// progress (rounded to permille) changes.
type ProgressMsg struct {
	Type            string  `json:"type"` // "PROGRESS"
	ProtocolVersion string  `json:"protocol_version"`
	RunID           string  `json:"run_id"`
	Phase           string  `json:"phase"`
	Progress        float64 `json:"progress"`
	Seq             uint64  `json:"seq"`
}

// Server -> Client. Sent once when the export finishes, successfully or not.
type DoneMsg struct {
	Type            string            `json:"type"` // "DONE"
	ProtocolVersion string            `json:"protocol_version"`
	RunID           string            `json:"run_id"`
	Summary         report.RunSummary `json:"summary"`
}
