package services

import (
	"testing"
)

func TestRenderTemplate(t *testing.T) {
	evt := testEvent()
	snapshot := EntitySnapshot{
		"title":    "Fix login bug",
		"priority": "high",
		"points":   float64(3),
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "entity placeholders",
			in:   "Task {entity.title} is {entity.priority}",
			want: "Task Fix login bug is high",
		},
		{
			name: "event placeholders",
			in:   "triggered by {event.actor_id} on {event.kind}",
			want: "triggered by user-1 on entity_updated",
		},
		{
			name: "missing placeholder renders empty",
			in:   "owner: {entity.owner}!",
			want: "owner: !",
		},
		{
			name: "numeric value",
			in:   "{entity.points} points",
			want: "3 points",
		},
		{
			name: "no placeholders",
			in:   "plain text",
			want: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderTemplate(tt.in, evt, snapshot)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
