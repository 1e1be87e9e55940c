package domain

import "time"

// ConversionRequest is the validated input of one job.
type ConversionRequest struct {
	CookieData []byte
	TargetURL  string
	PageSpec   string
	RequestID  string
}

// Workspace is the transient directory owned by a single job.
// OutputPath lives outside of RootPath and survives the workspace.
type Workspace struct {
	ID             string `json:"id"`
	RootPath       string `json:"rootPath"`
	CookieFilePath string `json:"cookieFilePath"`
	OutputPath     string `json:"outputPath"`
	PublicPath     string `json:"publicPath"`
}

// JobOutcome is derived once the converter has exited and its output is drained.
type JobOutcome struct {
	Succeeded    bool   `json:"succeeded"`
	DownloadPath string `json:"downloadPath,omitempty"`

	ExitCode    int           `json:"-"`
	OutputBytes int64         `json:"-"`
	Duration    time.Duration `json:"-"`
	Err         error         `json:"-"`
}

func FailedOutcome(err error) JobOutcome {
	return JobOutcome{Succeeded: false, ExitCode: -1, Err: err}
}
