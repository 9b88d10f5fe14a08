package governor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmirror/mailmirror/internal/logger"
)

func testLogger() logger.Logger {
	log := logger.NewAppLogger(&logger.Config{LogLevel: "debug", DevMode: true})
	log.InitLogger()
	return log
}

func TestInitLimit_IsIdempotent(t *testing.T) {
	g := New(testLogger())
	g.InitLimit("FOLDER_test", 3)
	g.InitLimit("FOLDER_test", 99)

	assert.Equal(t, 3, g.LimitSize("FOLDER_test"))
	assert.Equal(t, 0, g.LimitSize("unknown"))
}

func TestGoLimited_UnknownLimit(t *testing.T) {
	g := New(testLogger())
	_, err := g.GoLimited("nope", "worker", func() error { return nil })
	require.Error(t, err)
}

func TestGoLimited_EnforcesCap(t *testing.T) {
	g := New(testLogger())
	g.InitLimit("pool", 2)

	var running, peak int64
	var workers []*Worker
	var mu sync.Mutex

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 8; i++ {
			w, err := g.GoLimited("pool", "job", func() error {
				n := atomic.AddInt64(&running, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&running, -1)
				return nil
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			workers = append(workers, w)
			mu.Unlock()
		}
	}()

	<-done
	mu.Lock()
	all := workers
	mu.Unlock()
	for _, w := range all {
		w.Wait()
	}

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestMonitorLoop_ReceivesExitRecords(t *testing.T) {
	g := New(testLogger())

	g.Go("ok worker", "", func() error { return nil })
	g.Go("bad worker", "", func() error { return errors.New("boom") })

	var seen []ExitRecord
	err := g.MonitorLoop(func(rec ExitRecord) error {
		seen = append(seen, rec)
		if len(seen) == 2 {
			return errors.New("stop")
		}
		return nil
	})
	require.Error(t, err)

	names := map[string]error{}
	for _, rec := range seen {
		names[rec.Name] = rec.Err
	}
	assert.NoError(t, names["ok worker"])
	assert.Error(t, names["bad worker"])
}

func TestGo_RecoversPanicsIntoExitRecord(t *testing.T) {
	g := New(testLogger())
	w := g.Go("panicky", "", func() error { panic("kaboom") })
	w.Wait()

	err := g.MonitorLoop(func(rec ExitRecord) error {
		assert.Equal(t, "panicky", rec.Name)
		require.Error(t, rec.Err)
		assert.Contains(t, rec.Err.Error(), "kaboom")
		return errors.New("stop")
	})
	require.Error(t, err)
}

func TestGo_CarriesSentinelMessage(t *testing.T) {
	g := New(testLogger())
	g.Go("runner", "ALL DONE", func() error { return nil })

	_ = g.MonitorLoop(func(rec ExitRecord) error {
		assert.Equal(t, "ALL DONE", rec.Message)
		return errors.New("stop")
	})
}
