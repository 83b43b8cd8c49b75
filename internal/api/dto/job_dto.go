package dto

type TestJobRequest struct {
	VideoID  string `json:"videoId"`
	VideoKey string `json:"videoKey"`
	VideoURL string `json:"videoUrl" binding:"omitempty,url"`
	FileName string `json:"fileName"`
}

type TestJobResponse struct {
	Success     bool   `json:"success"`
	JobID       string `json:"jobId,omitempty"`
	Subscribers int64  `json:"subscribers"`
	Delivered   bool   `json:"delivered"`
	Error       string `json:"error,omitempty"`
}

type ConnectionDTO struct {
	State   string `json:"state"`
	Attempt int    `json:"attempt"`
	DelayMs int64  `json:"delayMs"`
	Since   string `json:"since"`
}

type StatsDTO struct {
	InFlight  int64 `json:"inFlight"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Discarded int64 `json:"discarded"`
}

type StatusResponse struct {
	Service     string        `json:"service"`
	Version     string        `json:"version,omitempty"`
	WorkerID    string        `json:"workerId,omitempty"`
	WorkerState string        `json:"workerState"`
	Transport   string        `json:"transport"`
	Channel     string        `json:"channel"`
	Connection  ConnectionDTO `json:"connection"`
	Stats       StatsDTO      `json:"stats"`
	Ledger      string        `json:"ledger"`
}

type ListJobsRequest struct {
	VideoID  string `form:"video_id"`
	Status   string `form:"status" binding:"omitempty,oneof=RUNNING COMPLETED FAILED"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID          string `json:"job_id"`
	VideoID        string `json:"video_id"`
	SourceLocation string `json:"source_location"`
	Status         string `json:"status"`
	WorkerID       string `json:"worker_id"`
	Attempts       int    `json:"attempts"`
	LastError      string `json:"last_error,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	CompletedAt    string `json:"completed_at,omitempty"`
}
