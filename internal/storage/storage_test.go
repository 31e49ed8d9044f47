package storage

import "testing"

func TestTaskStatus_Terminal(t *testing.T) {
	for _, s := range []TaskStatus{TaskCompleted, TaskFailed, TaskStopped} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []TaskStatus{TaskPending, TaskRunning} {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}
