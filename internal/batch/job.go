package batch

import "time"

// Job statuses for server-side batch jobs.
const (
	StatusPending     = "pending"
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusCanceled    = "canceled"
	StatusInterrupted = "interrupted"
)

// JobRecord is a persisted server-side batch job.
type JobRecord struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	ItemType    string         `json:"itemtype"`
	ActionKey   string         `json:"action"`
	ActionData  map[string]any `json:"action_data,omitempty"`
	BatchSize   int            `json:"batch_size"`
	Concurrency int            `json:"concurrency"`
	TotalItems  int            `json:"total_items"`
	Processed   int            `json:"processed_items"`
	OK          int            `json:"ok"`
	KO          int            `json:"ko"`
	NoRight     int            `json:"noright"`
	Messages    []string       `json:"messages"`
	Errors      []string       `json:"errors"`
	Cancelled   bool           `json:"cancelled"`
	CreatedBy   string         `json:"created_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`

	// ETASeconds is filled from the live job while it runs. Not persisted.
	ETASeconds *float64 `json:"eta_seconds,omitempty"`

	// IDs and IsDeleted describe the selection. Transient (not persisted).
	IDs       []int `json:"-"`
	IsDeleted bool  `json:"-"`
}

// Finished reports whether the job reached a terminal status.
func (r *JobRecord) Finished() bool {
	switch r.Status {
	case StatusCompleted, StatusCanceled, StatusInterrupted:
		return true
	}
	return false
}

// apply copies a snapshot's counters into the record.
// advance applies a progress snapshot unless it is older than what the
// record already holds. Workers report concurrently, so snapshots can
// arrive out of order.
func (r *JobRecord) advance(s Snapshot) bool {
	if s.Processed < r.Processed {
		return false
	}
	r.apply(s)
	return true
}

func (r *JobRecord) apply(s Snapshot) {
	r.Processed = s.Processed
	r.OK = s.OK
	r.KO = s.KO
	r.NoRight = s.NoRight
	r.Messages = s.Messages
	r.Errors = s.Errors
	r.Cancelled = s.Cancelled
	r.ETASeconds = s.ETASeconds
}

// ChunkRecord is the persisted outcome of one chunk of a server-side job.
type ChunkRecord struct {
	JobID      string    `json:"job_id"`
	Index      int       `json:"index"`
	ItemCount  int       `json:"item_count"`
	Outcome    string    `json:"outcome"`
	Attempts   int       `json:"attempts"`
	OK         int       `json:"ok"`
	KO         int       `json:"ko"`
	NoRight    int       `json:"noright"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// StartRequest is the API request body for starting a server-side job.
type StartRequest struct {
	ItemType    string         `json:"itemtype"`
	IDs         []int          `json:"ids"`
	Action      string         `json:"action"`
	ActionData  map[string]any `json:"action_data,omitempty"`
	IsDeleted   bool           `json:"is_deleted,omitempty"`
	BatchSize   int            `json:"batch_size,omitempty"`
	Concurrency int            `json:"concurrency,omitempty"`
}

// JobDetail is a job with its chunk log.
type JobDetail struct {
	JobRecord
	Chunks []ChunkRecord `json:"chunks"`
}
