package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type constRate float64

func (r constRate) EventsPerSecond() float64 { return float64(r) }

func TestReporterEmitsAtInterval(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	core, logs := observer.New(zapcore.InfoLevel)
	tr := NewTracker()
	tr.AddSuccess(2048)

	r := NewReporter(constRate(4.5), tr, 10*time.Millisecond, zap.New(core))
	r.Start(context.Background())

	require.Eventually(t, func() bool {
		return logs.FilterMessage("Objects per second").Len() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	r.Stop()

	entry := logs.FilterMessage("Objects per second").All()[0]
	assert.Equal(t, 4.5, entry.ContextMap()["rate"])
	assert.Equal(t, int64(1), entry.ContextMap()["succeeded"])
	assert.Equal(t, 1, logs.FilterMessage("Migration summary").Len())
}

func TestReporterStopIsDeterministic(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	core, logs := observer.New(zapcore.InfoLevel)
	r := NewReporter(constRate(0), NewTracker(), time.Hour, zap.New(core))
	r.Start(context.Background())
	r.Start(context.Background())
	r.Stop()

	assert.Equal(t, 0, logs.FilterMessage("Objects per second").Len())
	assert.Equal(t, 1, logs.FilterMessage("Migration summary").Len())
}

func TestReporterStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	r := NewReporter(constRate(0), NewTracker(), time.Millisecond, zap.NewNop())
	r.Start(ctx)
	cancel()
	r.Stop()
}

func TestReporterStopWithoutStart(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := NewReporter(constRate(0), NewTracker(), time.Second, zap.New(core))
	r.Stop()
	assert.Equal(t, 0, logs.Len())
}

func TestReporterSummaryListsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	tr := NewTracker()
	tr.AddFailed(Failure{Key: "broken.dcm", StatusCode: 400, Error: "invalid"})

	r := NewReporter(constRate(0), tr, time.Hour, zap.New(core))
	r.Start(context.Background())
	r.Stop()

	failed := logs.FilterMessage("Object failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "broken.dcm", failed[0].ContextMap()["key"])
}
