package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timepulse/timepulse/internal/timers"
)

func TestAddListRemoveCountdown(t *testing.T) {
	te := setupTest(t)

	out := run(t, "add", "--in", "90m", "Product", "launch")
	assert.Contains(t, out, `Added countdown "Product launch"`)

	r := te.find(t, "Product launch")
	require.NotNil(t, r.TargetDate)
	assert.Equal(t, testNow.Add(90*time.Minute), *r.TargetDate)
	assert.Equal(t, r.ID, te.collection(t).ActiveID())
	assert.Contains(t, te.agent.scheduledIDs(), r.ID)
	assert.True(t, te.agent.closed)

	out = run(t, "list")
	assert.Contains(t, out, "Product launch")
	assert.Contains(t, out, "from now")
	assert.Contains(t, out, "*")

	out = run(t, "rm", r.ID[:6])
	assert.Contains(t, out, `Removed "Product launch"`)
	assert.Contains(t, te.agent.cancelled, r.ID)
	_, ok := te.collection(t).Get(r.ID)
	assert.False(t, ok)
}

func TestListDoesNotStartTheAgent(t *testing.T) {
	te := setupTest(t)
	out := run(t, "list")
	assert.Contains(t, out, "Here are your timers")
	assert.Zero(t, te.dials)

	// The first boot seeded and saved the default countdown.
	_, ok := te.collection(t).Get(timers.DefaultID)
	assert.True(t, ok)
}

func TestAddRejectsInvalidInput(t *testing.T) {
	te := setupTest(t)
	run(t, "add", "No target")
	run(t, "add", "--at", "2026-01-01", "--in", "1h", "Both")
	run(t, "add", "--type", "alarm", "--in", "1h", "Bad type")
	run(t, "add", "--type", "worldclock", "No zone")
	assert.Zero(t, te.dials)
	assert.Equal(t, 1, te.collection(t).Len(), "only the default countdown exists")
}

func TestAddStopwatchAndWorldClock(t *testing.T) {
	te := setupTest(t)
	run(t, "add", "-t", "stopwatch", "--start", "Lap")
	run(t, "add", "--type", "worldclock", "--tz", "Asia/Tokyo", "--city", "Tokyo", "Office")

	lap := te.find(t, "Lap")
	assert.Equal(t, timers.Stopwatch, lap.Type)
	assert.True(t, lap.IsRunning)
	require.NotNil(t, lap.StartTime)
	assert.Equal(t, testNow, *lap.StartTime)

	office := te.find(t, "Office")
	assert.Equal(t, "Asia/Tokyo", office.Timezone)
	assert.Equal(t, "Tokyo", office.City)

	assert.NotContains(t, te.agent.scheduledIDs(), lap.ID)
	assert.NotContains(t, te.agent.scheduledIDs(), office.ID)
}

func TestEditIntoThePastCancels(t *testing.T) {
	te := setupTest(t)
	run(t, "add", "--in", "1h", "Soon")
	r := te.find(t, "Soon")

	out := run(t, "edit", "--name", "Done", "--at", "2025-05-01 10:00", r.ID)
	assert.Contains(t, out, `Updated "Done"`)
	assert.Contains(t, te.agent.cancelled, r.ID)

	got := te.find(t, "Done")
	assert.Equal(t, "2025-05-01 10:00", got.TargetDate.In(time.Local).Format("2006-01-02 15:04"))
}

func TestSelectChangesActive(t *testing.T) {
	te := setupTest(t)
	run(t, "add", "--in", "1h", "First")
	require.NotEqual(t, timers.DefaultID, te.collection(t).ActiveID())

	out := run(t, "select", timers.DefaultID)
	assert.Contains(t, out, "Active timer is now")
	assert.Equal(t, timers.DefaultID, te.collection(t).ActiveID())
}

func TestAgentUnavailableStillSaves(t *testing.T) {
	te := setupTest(t)
	dialAgent = func(context.Context, string) (agentClient, error) {
		return nil, errors.New("connection refused")
	}
	run(t, "add", "--in", "1h", "Offline")
	te.find(t, "Offline")
	assert.Empty(t, te.agent.scheduledIDs())
}

func TestResolveID(t *testing.T) {
	col := timers.New(timers.Snapshot{Timers: []timers.Record{
		{ID: "abc123", Name: "a"},
		{ID: "abd456", Name: "b"},
		{ID: "default", Name: "d"},
	}})
	id, err := resolveID(col, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	id, err = resolveID(col, "default")
	require.NoError(t, err)
	assert.Equal(t, "default", id)

	_, err = resolveID(col, "ab")
	assert.ErrorIs(t, err, errAmbiguousID)
	_, err = resolveID(col, "zzz")
	assert.ErrorIs(t, err, timers.ErrNotFound)
	_, err = resolveID(col, "")
	assert.Error(t, err)
}

func TestParseTarget(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	tests := []struct {
		name    string
		at      string
		in      time.Duration
		loc     *time.Location
		want    time.Time
		wantErr error
	}{
		{name: "relative", in: time.Hour, loc: time.UTC, want: testNow.Add(time.Hour)},
		{name: "date only", at: "2025-12-25", loc: time.UTC, want: time.Date(2025, 12, 25, 0, 0, 0, 0, time.UTC)},
		{name: "minutes in zone", at: "2025-12-25 08:30", loc: tokyo, want: time.Date(2025, 12, 25, 8, 30, 0, 0, tokyo)},
		{name: "rfc3339", at: "2025-12-25T08:30:00Z", loc: tokyo, want: time.Date(2025, 12, 25, 8, 30, 0, 0, time.UTC)},
		{name: "none", loc: time.UTC, wantErr: errNoTarget},
		{name: "both", at: "2025-12-25", in: time.Hour, loc: time.UTC, wantErr: errBothTargets},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTarget(tt.at, tt.in, testNow, tt.loc)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
	_, err = parseTarget("next tuesday", 0, testNow, time.UTC)
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	past := testNow.Add(-48 * time.Hour)
	future := testNow.Add(72 * time.Hour)
	start := testNow.Add(-90 * time.Second)

	assert.Contains(t, describe(timers.Record{TargetDate: &future}, testNow), "from now")
	assert.Contains(t, describe(timers.Record{TargetDate: &past}, testNow), "finished 2 days ago")
	assert.Equal(t, "no target", describe(timers.Record{}, testNow))
	assert.Equal(t, "stopped", describe(timers.Record{Type: timers.Stopwatch}, testNow))
	assert.Equal(t, "running for 00:01:30",
		describe(timers.Record{Type: timers.Stopwatch, IsRunning: true, StartTime: &start}, testNow))
	assert.Equal(t, "21:00 JST in Tokyo, Japan",
		describe(timers.Record{Type: timers.WorldClock, Timezone: "Asia/Tokyo", City: "Tokyo", Country: "Japan"}, testNow))
	assert.Equal(t, "21:00 JST",
		describe(timers.Record{Type: timers.WorldClock, Timezone: "Asia/Tokyo"}, testNow))
}
