package scheduler_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportserver/src/scheduler"
)

func TestScheduledTask(t *testing.T) {
	t.Run("rejects sub-second intervals", func(t *testing.T) {
		_, err := scheduler.NewScheduledTask(500*time.Millisecond, func() {}, logrus.New())
		assert.Error(t, err)
	})

	t.Run("runs immediately and waits for the run on cancel", func(t *testing.T) {
		var runs atomic.Int32
		started := make(chan struct{})
		release := make(chan struct{})

		task, err := scheduler.NewScheduledTask(time.Hour, func() {
			if runs.Add(1) == 1 {
				close(started)
			}
			<-release
		}, logrus.New())
		require.NoError(t, err)

		task.Start(true)
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("task did not run immediately")
		}

		done := task.Cancel()
		select {
		case <-done.Done():
			t.Fatal("cancel returned before the running invocation finished")
		case <-time.After(50 * time.Millisecond):
		}

		close(release)
		select {
		case <-done.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("cancel never completed")
		}
		assert.Equal(t, int32(1), runs.Load())
	})

	t.Run("does not run before the first interval without runNow", func(t *testing.T) {
		var runs atomic.Int32
		task, err := scheduler.NewScheduledTask(time.Hour, func() { runs.Add(1) }, logrus.New())
		require.NoError(t, err)

		task.Start(false)
		time.Sleep(50 * time.Millisecond)
		<-task.Cancel().Done()
		assert.Equal(t, int32(0), runs.Load())
	})
}
