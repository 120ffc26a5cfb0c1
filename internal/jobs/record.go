package jobs

import "time"

type State string

const (
	StateUploaded   State = "uploaded"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

const UploadedMessage = "File uploaded successfully"

// Record is the status snapshot kept for one upload. The JSON names are the
// wire format served by the status endpoint.
type Record struct {
	ID               string     `json:"upload_id"`
	State            State      `json:"status"`
	Progress         int        `json:"progress"`
	Message          string     `json:"message"`
	OriginalFilename string     `json:"original_filename"`
	UploadTime       time.Time  `json:"upload_time"`
	CompletionTime   *time.Time `json:"completion_time,omitempty"`
	ErrorTime        *time.Time `json:"error_time,omitempty"`
	// Instance names the service instance that accepted the current run.
	Instance         string     `json:"instance,omitempty"`
}

func newRecord(id, originalFilename string, now time.Time) Record {
	return Record{
		ID:               id,
		State:            StateUploaded,
		Progress:         0,
		Message:          UploadedMessage,
		OriginalFilename: originalFilename,
		UploadTime:       now,
	}
}

func (r Record) clone() Record {
	out := r
	if r.CompletionTime != nil {
		t := *r.CompletionTime
		out.CompletionTime = &t
	}
	if r.ErrorTime != nil {
		t := *r.ErrorTime
		out.ErrorTime = &t
	}
	return out
}

// Terminal reports whether no run is in flight for the record.
func (r Record) Terminal() bool {
	return r.State == StateCompleted || r.State == StateError
}
