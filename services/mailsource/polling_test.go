package mailsource

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailbot/internal/enum"
	"github.com/customeros/mailbot/internal/models"
)

func newTestPollingSource(mailbox *fakeMailbox, sink *recordingSink, checkpoints *memoryCheckpoints, now *time.Time) *PollingSource {
	s := NewPollingSource(PollingConfig{Mailbox: "bot@example.com", Folder: "INBOX", Period: time.Hour, RetrieveCount: 10},
		mailbox, checkpoints, sink.sink, getLogger())
	s.now = func() time.Time { return *now }
	return s
}

func TestPollingTick_AdvancesCheckpointToTickTime(t *testing.T) {
	mailbox := &fakeMailbox{items: []models.MailItem{
		{ID: "b", ReceivedAt: t0.Add(2 * time.Second)},
		{ID: "a", ReceivedAt: t0.Add(1 * time.Second)},
	}}
	sink := &recordingSink{}
	checkpoints := newMemoryCheckpoints()
	now := t0.Add(10 * time.Second)
	s := newTestPollingSource(mailbox, sink, checkpoints, &now)
	s.checkpoint = t0

	s.tick(context.Background())

	assert.Equal(t, []string{"a", "b"}, sink.ids())
	assert.Equal(t, t0.Add(10*time.Second), s.Checkpoint())
	stored, _ := checkpoints.GetCheckpoint(context.Background(), "bot@example.com", "INBOX")
	require.NotNil(t, stored)
	assert.Equal(t, t0.Add(10*time.Second), *stored)
}

func TestPollingTick_NeverReEmitsItemsAtOrBeforeCheckpoint(t *testing.T) {
	mailbox := &fakeMailbox{items: []models.MailItem{
		{ID: "a", ReceivedAt: t0.Add(1 * time.Second)},
	}}
	sink := &recordingSink{}
	now := t0.Add(5 * time.Second)
	s := newTestPollingSource(mailbox, sink, nil, &now)
	s.checkpoint = t0

	s.tick(context.Background())
	now = now.Add(10 * time.Second)
	mailbox.items = append(mailbox.items, models.MailItem{ID: "c", ReceivedAt: t0.Add(7 * time.Second)})
	s.tick(context.Background())
	now = now.Add(10 * time.Second)
	s.tick(context.Background())

	assert.Equal(t, []string{"a", "c"}, sink.ids())
	assert.Equal(t, []time.Time{t0, t0.Add(5 * time.Second), t0.Add(15 * time.Second)}, mailbox.calls)
}

func TestPollingTick_FiltersItemsTheServerShouldNotHaveReturned(t *testing.T) {
	mailbox := &fakeMailbox{}
	sink := &recordingSink{}
	now := t0.Add(time.Minute)
	s := newTestPollingSource(mailbox, sink, nil, &now)
	s.checkpoint = t0
	s.client = pollFunc(func(since time.Time) []models.MailItem {
		return []models.MailItem{{ID: "old", ReceivedAt: since}, {ID: "new", ReceivedAt: since.Add(time.Millisecond)}}
	})

	s.tick(context.Background())

	assert.Equal(t, []string{"new"}, sink.ids())
}

func TestPollingTick_FailureKeepsCheckpoint(t *testing.T) {
	mailbox := &fakeMailbox{pollErr: errors.New("connection reset")}
	sink := &recordingSink{}
	now := t0.Add(time.Minute)
	s := newTestPollingSource(mailbox, sink, nil, &now)
	s.checkpoint = t0

	s.tick(context.Background())

	assert.Equal(t, t0, s.Checkpoint())
	assert.Empty(t, sink.ids())
}

func TestPollingTick_RespectsRetrieveCount(t *testing.T) {
	mailbox := &fakeMailbox{}
	for i := 1; i <= 5; i++ {
		mailbox.items = append(mailbox.items, models.MailItem{ID: string(rune('a' + i - 1)), ReceivedAt: t0.Add(time.Duration(i) * time.Second)})
	}
	sink := &recordingSink{}
	now := t0.Add(time.Minute)
	s := newTestPollingSource(mailbox, sink, nil, &now)
	s.cfg.RetrieveCount = 2
	s.checkpoint = t0

	s.tick(context.Background())

	assert.Equal(t, []int{2}, mailbox.limits)
	assert.Equal(t, []string{"d", "e"}, sink.ids())
}

func TestPollingTick_CheckpointNeverMovesBackwards(t *testing.T) {
	mailbox := &fakeMailbox{}
	sink := &recordingSink{}
	now := t0.Add(-time.Hour)
	s := newTestPollingSource(mailbox, sink, nil, &now)
	s.checkpoint = t0

	s.tick(context.Background())

	assert.Equal(t, t0, s.Checkpoint())
}

func TestPollingStart_ResumesFromStoredCheckpoint(t *testing.T) {
	checkpoints := newMemoryCheckpoints()
	require.NoError(t, checkpoints.SaveCheckpoint(context.Background(), "bot@example.com", "INBOX", t0))
	now := t0.Add(time.Hour)
	s := newTestPollingSource(&fakeMailbox{}, &recordingSink{}, checkpoints, &now)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, t0, s.Checkpoint())
	assert.Equal(t, enum.ConnectionConnected, s.State())
}

func TestPollingStartStop_Idempotent(t *testing.T) {
	now := t0
	s := newTestPollingSource(&fakeMailbox{}, &recordingSink{}, nil, &now)

	require.NoError(t, s.StartFrom(context.Background(), t0))
	require.NoError(t, s.StartFrom(context.Background(), t0.Add(time.Hour)))
	assert.Equal(t, t0, s.Checkpoint())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.Equal(t, enum.ConnectionDisconnected, s.State())

	require.NoError(t, s.StartFrom(context.Background(), t0))
	require.NoError(t, s.Stop())
}

func TestPollingLoop_TicksAndStops(t *testing.T) {
	mailbox := &fakeMailbox{items: []models.MailItem{{ID: "a", ReceivedAt: time.Now().Add(time.Hour)}}}
	sink := &recordingSink{}
	s := NewPollingSource(PollingConfig{Folder: "INBOX", Period: 10 * time.Millisecond}, mailbox, nil, sink.sink, getLogger())

	require.NoError(t, s.StartFrom(context.Background(), time.Now()))
	assert.Eventually(t, func() bool { return len(sink.ids()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	emitted := len(sink.ids())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, emitted, len(sink.ids()))
}

type pollFunc func(since time.Time) []models.MailItem

func (f pollFunc) PollSince(_ context.Context, _ string, since time.Time, _ int) ([]models.MailItem, error) {
	return f(since), nil
}
