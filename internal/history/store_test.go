package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveAndRecords(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.SaveInterpretation(dragonscale.InterpretationEvent{
		Query:    "show disk usage",
		Result:   dragonscale.NewAction(dragonscale.FormatCodeBlock, dragonscale.Action{Command: "df -h"}),
		Cached:   true,
		Duration: 1500 * time.Millisecond,
	}))
	require.NoError(t, s.SaveInterpretation(dragonscale.InterpretationEvent{
		Query:  "make me a sandwich",
		Result: dragonscale.NewExtractionError(dragonscale.FormatNone, "no command found", true, ""),
	}))

	records, err := s.Records(0, "")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "make me a sandwich", records[0].Subject, "newest first")
	assert.False(t, records[0].Success)
	assert.Equal(t, "no command found", records[0].Error)

	first := records[1]
	assert.Equal(t, KindInterpretation, first.Kind)
	assert.Equal(t, "df -h", first.Command)
	assert.Equal(t, string(dragonscale.KindAction), first.ResultKind)
	assert.True(t, first.Success)
	assert.True(t, first.Cached)
	assert.Equal(t, 1500*time.Millisecond, first.Duration)
	assert.False(t, first.Timestamp.IsZero())
}

func TestStore_SearchLimitClear(t *testing.T) {
	s := openStore(t)
	for _, q := range []string{"list files", "disk usage", "list processes"} {
		require.NoError(t, s.Save(Record{Kind: KindInterpretation, Subject: q, Success: true}))
	}

	records, err := s.Records(0, "list")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = s.Records(1, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "list processes", records[0].Subject)

	require.NoError(t, s.Clear())
	records, err = s.Records(0, "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_SavePlanRun(t *testing.T) {
	s := openStore(t)
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	res := &dragonscale.AggregateResult{
		RunID: "run-1",
		State: dragonscale.RunFailed,
		Trace: []dragonscale.TraceEntry{
			{StepID: "step_1", Target: dragonscale.ToolRef("shell"), Action: "run", Result: "ok"},
		},
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
	}
	require.NoError(t, s.SavePlanRun(dragonscale.PlanRunEvent{PlanName: "deploy", Steps: 2, Result: res, Err: errors.New("step 2 failed")}))

	records, err := s.Records(0, "deploy")
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, KindPlanRun, rec.Kind)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "tool 'shell':run", rec.Command)
	assert.Equal(t, "ok", rec.Output)
	assert.False(t, rec.Success)
	assert.Equal(t, "step 2 failed", rec.Error)
	assert.Equal(t, 2*time.Second, rec.Duration)
	assert.True(t, rec.Timestamp.Equal(start))
}

func TestRecorder_RecordsBusEvents(t *testing.T) {
	s := openStore(t)
	bus := eventbus.NewChannelEventBus()
	rec := NewRecorder(s, nil)
	require.NoError(t, rec.Attach(bus))

	ctx := context.Background()
	eventbus.Publish(ctx, bus, eventbus.EventInterpretationSuccess, dragonscale.InterpretationEvent{
		Query:  "uptime",
		Result: dragonscale.NewAction(dragonscale.FormatInlineCode, dragonscale.Action{Command: "uptime"}),
	}, "test", nil)
	eventbus.Publish(ctx, bus, eventbus.EventPlanExecutionSuccess, dragonscale.PlanRunEvent{
		PlanName: "uptime",
		Result:   &dragonscale.AggregateResult{RunID: "r", Output: "up 3 days", StartedAt: time.Now(), FinishedAt: time.Now()},
	}, "test", nil)
	eventbus.Publish(ctx, bus, eventbus.EventCacheHit, "ignored", "test", nil)
	require.NoError(t, bus.Close())

	records, err := s.Records(0, "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	kinds := []string{records[0].Kind, records[1].Kind}
	assert.ElementsMatch(t, []string{KindInterpretation, KindPlanRun}, kinds)

	require.NoError(t, rec.Detach())
}
