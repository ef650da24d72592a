package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"

	"github.com/srg/gattd/internal/groutine"
)

type LoopTestSuite struct {
	suite.Suite

	loop   *Loop
	hook   *test.Hook
	cancel context.CancelFunc
	exited chan error
}

func (suite *LoopTestSuite) SetupTest() {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	suite.hook = hook
	suite.loop = NewLoop(logger)

	var ctx context.Context
	ctx, suite.cancel = context.WithCancel(context.Background())
	suite.exited = make(chan error, 1)
	groutine.Go(ctx, "dispatch-loop", func(ctx context.Context) { suite.exited <- suite.loop.Run(ctx) })
}

func (suite *LoopTestSuite) TestLogsCarryGoroutineName() {
	suite.Require().Eventually(func() bool {
		for _, e := range suite.hook.AllEntries() {
			if e.Message == "Dispatch loop started" {
				return e.Data["goroutine"] == "dispatch-loop"
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "loop logs MUST name the goroutine they run in")
}

func (suite *LoopTestSuite) TearDownTest() {
	suite.cancel()
	<-suite.exited
}

func (suite *LoopTestSuite) TestFIFOOrder() {
	// GOAL: Verify jobs run one at a time in posting order
	//
	// TEST SCENARIO: Post 1000 jobs → wait with Do → recorded order matches posting order

	var got []int
	for i := 0; i < 1000; i++ {
		i := i
		suite.Require().True(suite.loop.Post(func() { got = append(got, i) }))
	}
	suite.Require().NoError(suite.loop.Do(context.Background(), func() {}))

	suite.Require().Len(got, 1000)
	for i, v := range got {
		suite.Require().Equal(i, v, "job %d MUST run in order", i)
	}
}

func (suite *LoopTestSuite) TestDoReentrant() {
	// GOAL: Verify Do issued from a loop job runs inline instead of deadlocking
	//
	// TEST SCENARIO: Do → inner Do → both complete

	inner := false
	err := suite.loop.Do(context.Background(), func() {
		suite.Assert().True(suite.loop.OnLoop(), "job MUST run on the loop")
		_ = suite.loop.Do(context.Background(), func() { inner = true })
	})

	suite.Assert().NoError(err)
	suite.Assert().True(inner, "inner Do MUST run")
	suite.Assert().False(suite.loop.OnLoop(), "test goroutine MUST not be the loop")
}

func (suite *LoopTestSuite) TestPanickingJobDoesNotStopLoop() {
	// GOAL: Verify a panic inside a job is contained
	//
	// TEST SCENARIO: Post panicking job → next Do still succeeds

	suite.loop.Post(func() { panic("boom") })

	ran := false
	suite.Assert().NoError(suite.loop.Do(context.Background(), func() { ran = true }))
	suite.Assert().True(ran)
}

func (suite *LoopTestSuite) TestConcurrentPosters() {
	// GOAL: Verify posting from many goroutines keeps per-producer order
	//
	// TEST SCENARIO: 8 producers x 200 jobs → each producer's sequence is increasing

	const producers, jobs = 8, 200
	seen := make(map[int][]int)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for j := 0; j < jobs; j++ {
				j := j
				suite.loop.Post(func() { seen[p] = append(seen[p], j) })
			}
		}(p)
	}
	wg.Wait()
	suite.Require().NoError(suite.loop.Do(context.Background(), func() {}))

	for p := 0; p < producers; p++ {
		suite.Require().Len(seen[p], jobs)
		for j, v := range seen[p] {
			suite.Require().Equal(j, v)
		}
	}
}

func (suite *LoopTestSuite) TestStop() {
	// GOAL: Verify stopped loop rejects work
	//
	// TEST SCENARIO: Stop → Run returns → Post false, Do ErrLoopStopped

	suite.loop.Stop()

	select {
	case err := <-suite.exited:
		suite.Assert().NoError(err)
		suite.exited <- nil // TearDownTest drains it
	case <-time.After(time.Second):
		suite.Fail("Run MUST return after Stop")
	}

	suite.Assert().False(suite.loop.Post(func() {}))
	suite.Assert().ErrorIs(suite.loop.Do(context.Background(), func() {}), ErrLoopStopped)
	suite.Assert().Error(suite.loop.Run(context.Background()), "second Run MUST fail")
}

func (suite *LoopTestSuite) TestDoContextCancelled() {
	// GOAL: Verify Do honours caller cancellation while the loop is busy
	//
	// TEST SCENARIO: Block loop → Do with short timeout → DeadlineExceeded

	release := make(chan struct{})
	suite.loop.Post(func() { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := suite.loop.Do(ctx, func() {})

	suite.Assert().ErrorIs(err, context.DeadlineExceeded)
}

func TestLoopTestSuite(t *testing.T) {
	suite.Run(t, new(LoopTestSuite))
}

func TestLoop_PostBeforeRun(t *testing.T) {
	loop := NewLoop(nil)
	ran := make(chan struct{})
	if !loop.Post(func() { close(ran) }) {
		t.Fatal("Post before Run MUST be accepted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("queued job MUST run once the loop starts")
	}
}
