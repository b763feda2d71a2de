package models

import (
	"testing"
	"time"
)

func TestScheduledTaskNextDue(t *testing.T) {
	due := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 1, 0, 20, 0, 0, time.UTC)
	every15 := "FREQ=MINUTELY;INTERVAL=15"
	broken := "FREQ=NOPE"

	tests := []struct {
		name string
		task ScheduledTask
		want time.Time
	}{
		{
			name: "one time keeps due",
			task: ScheduledTask{Due: due, TaskType: ScheduledTaskTypeOneTime, RecurringInterval: &every15},
			want: due,
		},
		{
			name: "recurring advances past now",
			task: ScheduledTask{Due: due, TaskType: ScheduledTaskTypeRecurring, RecurringInterval: &every15},
			want: due.Add(30 * time.Minute),
		},
		{
			name: "unparsable rule keeps due",
			task: ScheduledTask{Due: due, TaskType: ScheduledTaskTypeRecurring, RecurringInterval: &broken},
			want: due,
		},
		{
			name: "recurring without rule keeps due",
			task: ScheduledTask{Due: due, TaskType: ScheduledTaskTypeRecurring},
			want: due,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.NextDue(now); !got.Equal(tt.want) {
				t.Errorf("NextDue() = %v; want %v", got, tt.want)
			}
		})
	}
}
