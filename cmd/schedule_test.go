package cmd

import (
	"testing"
	"time"

	"github.com/go-co-op/gocron"
)

func TestScheduleJob(t *testing.T) {
	t.Parallel()

	noop := func() {}
	tests := []struct {
		name    string
		every   time.Duration
		cron    string
		wantErr bool
	}{
		{name: "interval", every: 15 * time.Minute},
		{name: "cron expression", cron: "0 18 * * 1-5"},
		{name: "both given", every: time.Hour, cron: "0 18 * * *", wantErr: true},
		{name: "neither given", wantErr: true},
		{name: "interval too short", every: 30 * time.Second, wantErr: true},
		{name: "invalid cron", cron: "not a cron", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scheduler := gocron.NewScheduler(time.UTC)
			job, err := scheduleJob(scheduler, tt.every, tt.cron, noop)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if job == nil || len(scheduler.Jobs()) != 1 {
				t.Fatalf("expected one registered job")
			}
		})
	}
}
