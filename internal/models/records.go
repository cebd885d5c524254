package models

import "time"

// Session is the persisted authentication state of one portal login.
type Session struct {
	UpdatedAt       time.Time
	Username        string
	BearerToken     string
	HiddenAuthToken string
	SiteKey         string
}

// PollOutcome classifies one poll run.
type PollOutcome string

// Poll outcomes.
const (
	PollSuccess      PollOutcome = "success"
	PollFailed       PollOutcome = "failed"
	PollNeedsCaptcha PollOutcome = "needs_captcha"
	PollOffline      PollOutcome = "offline"
	PollSkipped      PollOutcome = "skipped"
)

// PollRun records one refresh of an account.
type PollRun struct {
	StartedAt  time.Time
	ID         string
	Username   string
	Outcome    PollOutcome
	Error      string
	DurationMs int64
	Contracts  int
}

// IndicationPush records one submitted meter reading.
type IndicationPush struct {
	PushedFor time.Time
	CreatedAt time.Time
	Username  string
	Contract  string
	Meter     string
	Error     string
	ID        int64
	Value     int64
	ErrorCode int
	Success   bool
}
