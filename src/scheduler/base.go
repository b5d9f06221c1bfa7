package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ScheduledTask runs taskFunc on a fixed interval. Runs never overlap: a fire
// that lands while the previous run is still going is skipped.
type ScheduledTask struct {
	cronID cron.EntryID
	cron   *cron.Cron
	// tracks the immediate run, which cron itself does not wait for
	wg sync.WaitGroup
}

func NewScheduledTask(interval time.Duration, taskFunc func(), logger *logrus.Logger) (*ScheduledTask, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("scheduler: interval %s is below one second", interval)
	}
	cronLogger := cron.PrintfLogger(logger)
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	id, err := c.AddFunc(fmt.Sprintf("@every %s", interval), taskFunc)
	if err != nil {
		return nil, err
	}

	return &ScheduledTask{
		cronID: id,
		cron:   c,
	}, nil
}

// Start begins firing. With runNow the first run happens immediately instead
// of one interval later.
func (s *ScheduledTask) Start(runNow bool) {
	s.cron.Start()
	if runNow {
		job := s.cron.Entry(s.cronID).WrappedJob
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			job.Run()
		}()
	}
}

// Cancel stops future fires and returns a context that is done once the
// running invocation, if any, has returned.
func (s *ScheduledTask) Cancel() context.Context {
	s.cron.Remove(s.cronID)
	cronDone := s.cron.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		cancel()
	}()
	return ctx
}
