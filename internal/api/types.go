package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes one job in a transport-friendly format.
type Job struct {
	ID            string      `json:"id"`
	Requester     string      `json:"requester"`
	URL           string      `json:"url"`
	Kind          string      `json:"kind"`
	Platform      string      `json:"platform,omitempty"`
	Status        string      `json:"status"`
	Active        bool        `json:"active"`
	Title         string      `json:"title,omitempty"`
	Progress      JobProgress `json:"progress"`
	Attempts      int         `json:"attempts"`
	FinalSize     int64       `json:"finalSize,omitempty"`
	FileName      string      `json:"fileName,omitempty"`
	ErrorKind     string      `json:"errorKind,omitempty"`
	ErrorMessage  string      `json:"errorMessage,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
	CreatedAt     string      `json:"createdAt,omitempty"`
	UpdatedAt     string      `json:"updatedAt,omitempty"`
	FinishedAt    string      `json:"finishedAt,omitempty"`
}

// JobProgress captures the stage and last progress text of a job.
type JobProgress struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// SubmitRequest is the body of POST /api/jobs.
type SubmitRequest struct {
	Requester string `json:"requester"`
	URL       string `json:"url"`
	Kind      string `json:"kind"`
}

// SubmitResponse acknowledges an accepted job.
type SubmitResponse struct {
	JobID     string `json:"job_id"`
	Requester string `json:"requester"`
	EventsURL string `json:"eventsUrl"`
	FileURL   string `json:"fileUrl"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// CheckResult mirrors a preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// BudgetStatus reports the size budget in bytes.
type BudgetStatus struct {
	CeilingBytes int64 `json:"ceilingBytes"`
	TargetBytes  int64 `json:"targetBytes"`
	MaxAttempts  int   `json:"maxAttempts"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	DatabasePath string             `json:"databasePath"`
	LockFilePath string             `json:"lockFilePath"`
	Budget       BudgetStatus       `json:"budget"`
	JobCounts    map[string]int     `json:"jobCounts"`
	ActiveJobs   []Job              `json:"activeJobs"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Checks       []CheckResult      `json:"checks"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
