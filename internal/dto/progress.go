package dto

import "polo/internal/service/classify"

// ProgressMessage is pushed to websocket viewers while a run is classified.
type ProgressMessage struct {
	Type      string  `json:"type"`
	Run       string  `json:"run"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Well      int     `json:"well,omitempty"`
	Error     string  `json:"error,omitempty"`
	Remaining float64 `json:"remainingSeconds"`
}

// Message types.
const (
	ProgressTypeImage = "progress"
	ProgressTypeDone  = "done"
)

// NewProgressMessage converts a classification progress update.
func NewProgressMessage(p classify.Progress) ProgressMessage {
	msg := ProgressMessage{
		Type:      ProgressTypeImage,
		Run:       p.Run,
		Completed: p.Completed,
		Total:     p.Total,
		Well:      p.Well,
		Remaining: p.Remaining.Seconds(),
	}
	if p.Err != nil {
		msg.Error = p.Err.Error()
	}
	return msg
}

// NewDoneMessage reports a finished task.
func NewDoneMessage(r classify.Result) ProgressMessage {
	msg := ProgressMessage{Type: ProgressTypeDone, Run: r.Run, Completed: r.Classified + r.Failed}
	if r.Cancelled {
		msg.Error = "cancelled"
	}
	return msg
}
