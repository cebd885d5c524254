package db

import (
	"testing"
	"time"

	"github.com/j-veylop/mosoblgaz-tui/internal/models"
)

func TestSession_SaveAndGet(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	session := &models.Session{
		Username:        "user@example.com",
		BearerToken:     "bearer-1",
		HiddenAuthToken: "hidden-1",
		SiteKey:         "abc123",
	}
	if err := db.SaveSession(session); err != nil {
		t.Fatalf("SaveSession() failed: %v", err)
	}
	if session.UpdatedAt.IsZero() {
		t.Error("SaveSession() should set UpdatedAt")
	}

	got, err := db.GetSession("user@example.com")
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}
	if got == nil || got.BearerToken != "bearer-1" || got.HiddenAuthToken != "hidden-1" || got.SiteKey != "abc123" {
		t.Fatalf("GetSession() = %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt was not read back")
	}
}

func TestSession_Upsert(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	if err := db.SaveSession(&models.Session{Username: "u", BearerToken: "old", SiteKey: "k"}); err != nil {
		t.Fatalf("SaveSession() failed: %v", err)
	}
	if err := db.SaveSession(&models.Session{Username: "u", BearerToken: "new"}); err != nil {
		t.Fatalf("SaveSession() failed: %v", err)
	}

	got, err := db.GetSession("u")
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}
	if got.BearerToken != "new" || got.SiteKey != "" {
		t.Errorf("GetSession() = %+v, want replaced tokens", got)
	}
}

func TestSession_Missing(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	got, err := db.GetSession("nobody")
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}
	if got != nil {
		t.Errorf("GetSession() = %+v, want nil", got)
	}
}

func TestSession_Delete(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	if err := db.SaveSession(&models.Session{Username: "u", BearerToken: "b"}); err != nil {
		t.Fatalf("SaveSession() failed: %v", err)
	}
	if err := db.DeleteSession("u"); err != nil {
		t.Fatalf("DeleteSession() failed: %v", err)
	}
	if got, _ := db.GetSession("u"); got != nil {
		t.Errorf("session still present: %+v", got)
	}
}

func TestPollRuns(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	now := time.Now().UTC().Truncate(time.Second)
	runs := []*models.PollRun{
		{ID: "run-1", Username: "u", StartedAt: now.Add(-2 * time.Hour), Outcome: models.PollSuccess, Contracts: 2, DurationMs: 120},
		{ID: "run-2", Username: "u", StartedAt: now.Add(-time.Hour), Outcome: models.PollFailed, Error: "timeout"},
		{ID: "run-3", Username: "other", StartedAt: now, Outcome: models.PollSuccess},
	}
	for _, run := range runs {
		if err := db.InsertPollRun(run); err != nil {
			t.Fatalf("InsertPollRun() failed: %v", err)
		}
	}

	got, err := db.GetRecentPollRuns("u", 10)
	if err != nil {
		t.Fatalf("GetRecentPollRuns() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetRecentPollRuns() returned %d runs, want 2", len(got))
	}
	if got[0].ID != "run-2" || got[0].Outcome != models.PollFailed || got[0].Error != "timeout" {
		t.Errorf("first run = %+v", got[0])
	}
	if got[1].Contracts != 2 || got[1].DurationMs != 120 {
		t.Errorf("second run = %+v", got[1])
	}
	if !got[1].StartedAt.Equal(now.Add(-2 * time.Hour)) {
		t.Errorf("StartedAt = %v, want %v", got[1].StartedAt, now.Add(-2*time.Hour))
	}
}

func TestPollRuns_DuplicateID(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	run := &models.PollRun{ID: "dup", Username: "u", Outcome: models.PollSuccess}
	if err := db.InsertPollRun(run); err != nil {
		t.Fatalf("InsertPollRun() failed: %v", err)
	}
	if err := db.InsertPollRun(run); err == nil {
		t.Error("InsertPollRun() should reject a duplicate ID")
	}
}

func TestPrunePollRuns(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	now := time.Now()
	for i, age := range []time.Duration{48 * time.Hour, 30 * time.Hour, time.Hour} {
		run := &models.PollRun{ID: string(rune('a' + i)), Username: "u", StartedAt: now.Add(-age), Outcome: models.PollSuccess}
		if err := db.InsertPollRun(run); err != nil {
			t.Fatalf("InsertPollRun() failed: %v", err)
		}
	}

	removed, err := db.PrunePollRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("PrunePollRuns() failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("PrunePollRuns() removed %d, want 2", removed)
	}
}

func TestIndicationPushes(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()
	pushes := []*models.IndicationPush{
		{Username: "u", Contract: "100", Meter: "m1", Value: 105, PushedFor: day, Success: true, CreatedAt: now.Add(-time.Minute)},
		{Username: "u", Contract: "100", Meter: "m1", Value: 90, PushedFor: day, ErrorCode: 12, Error: "rejected", CreatedAt: now},
		{Username: "u", Contract: "100", Meter: "m2", Value: 1, PushedFor: day, Success: true},
	}
	for _, push := range pushes {
		if err := db.InsertIndicationPush(push); err != nil {
			t.Fatalf("InsertIndicationPush() failed: %v", err)
		}
		if push.ID == 0 {
			t.Error("InsertIndicationPush() should set ID")
		}
	}

	got, err := db.GetIndicationPushes("100", "m1", 10)
	if err != nil {
		t.Fatalf("GetIndicationPushes() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetIndicationPushes() returned %d, want 2", len(got))
	}
	if got[0].Success || got[0].ErrorCode != 12 || got[0].Error != "rejected" {
		t.Errorf("newest push = %+v", got[0])
	}
	if !got[1].Success || got[1].Value != 105 || got[1].ErrorCode != 0 {
		t.Errorf("older push = %+v", got[1])
	}
	if got[1].PushedFor.Format(dateLayout) != "2024-02-01" {
		t.Errorf("PushedFor = %v", got[1].PushedFor)
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want time.Time
	}{
		{"Time", want, want},
		{"Text", "2024-01-02 03:04:05", want},
		{"Bytes", []byte("2024-01-02 03:04:05"), want},
		{"Date", "2024-01-02", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"Garbage", "soon", time.Time{}},
		{"Nil", nil, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseTime(tt.in); !got.Equal(tt.want) {
				t.Errorf("parseTime(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRecentIndicationPushes(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()
	pushes := []*models.IndicationPush{
		{Username: "u", Contract: "100", Meter: "m1", Value: 105, PushedFor: day, Success: true, CreatedAt: now.Add(-time.Hour)},
		{Username: "u", Contract: "200", Meter: "m2", Value: 7, PushedFor: day, Success: true, CreatedAt: now.Add(-time.Minute)},
		{Username: "other", Contract: "300", Meter: "m3", Value: 1, PushedFor: day, Success: true, CreatedAt: now},
	}
	for _, push := range pushes {
		if err := db.InsertIndicationPush(push); err != nil {
			t.Fatalf("InsertIndicationPush() failed: %v", err)
		}
	}

	got, err := db.GetRecentIndicationPushes("u", 1)
	if err != nil {
		t.Fatalf("GetRecentIndicationPushes() failed: %v", err)
	}
	if len(got) != 1 || got[0].Contract != "200" {
		t.Fatalf("GetRecentIndicationPushes() = %+v, want the contract 200 push", got)
	}

	got, err = db.GetRecentIndicationPushes("nobody", 10)
	if err != nil {
		t.Fatalf("GetRecentIndicationPushes() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("GetRecentIndicationPushes() returned %d rows for an unknown user", len(got))
	}
}
