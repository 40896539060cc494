package app

import (
	"errors"
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	op := NewOperation("reconcile", now)

	if op.Command != "reconcile" {
		t.Errorf("Command = %q, want %q", op.Command, "reconcile")
	}
	if op.Status != "success" {
		t.Errorf("Status = %q, want %q", op.Status, "success")
	}
	if !op.StartedAt.Equal(now) {
		t.Errorf("StartedAt = %v, want %v", op.StartedAt, now)
	}
	if len(op.ShortID()) != 8 {
		t.Errorf("ShortID() = %q, want 8 characters", op.ShortID())
	}
	if other := NewOperation("reconcile", now); other.ID == op.ID {
		t.Error("NewOperation() reused a run id")
	}
}

func TestOperation_Fail(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil error keeps success", err: nil, want: "success"},
		{name: "error marks failure", err: errors.New("boom"), want: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation("sync", time.Now())
			op.Fail(tt.err)
			if op.Status != tt.want {
				t.Errorf("Status = %q, want %q", op.Status, tt.want)
			}
		})
	}
}
