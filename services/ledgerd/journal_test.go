package ledgerd

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"ticketledger/core/events"
	"ticketledger/core/types"
)

type journalTestEvent struct {
	evt *types.Event
}

func (e journalTestEvent) EventType() string   { return e.evt.Type }
func (e journalTestEvent) Event() *types.Event { return e.evt }

type plainEvent struct{}

func (plainEvent) EventType() string { return "plain" }

type countingEmitter struct {
	seen []string
}

func (c *countingEmitter) Emit(evt events.Event) {
	c.seen = append(c.seen, evt.EventType())
}

func newTestJournal(t *testing.T, next events.Emitter) *Journal {
	t.Helper()
	db, err := OpenJournalDB("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	journal := NewJournal(db, next, nil)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var tick time.Duration
	journal.now = func() time.Time {
		tick += time.Second
		return base.Add(tick)
	}
	return journal
}

func TestJournalPersistsAndForwards(t *testing.T) {
	next := &countingEmitter{}
	journal := newTestJournal(t, next)

	journal.Emit(journalTestEvent{evt: &types.Event{Type: "billing.ticket.sold", Attributes: map[string]string{
		"event": "evt1a", "ticket": "a1", "newPrice": "2000",
	}}})
	journal.Emit(journalTestEvent{evt: &types.Event{Type: "billing.ticket.refunded", Attributes: map[string]string{
		"event": "evt1a", "ticket": "a1",
	}}})
	journal.Emit(journalTestEvent{evt: &types.Event{Type: "billing.ticket.sold", Attributes: map[string]string{
		"event": "evt1b", "ticket": "b2",
	}}})
	journal.Emit(plainEvent{})

	require.Equal(t, []string{"billing.ticket.sold", "billing.ticket.refunded", "billing.ticket.sold", "plain"}, next.seen)

	all, err := journal.List(context.Background(), JournalQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "evt1b", all[0].Event, "newest first")

	sold, err := journal.List(context.Background(), JournalQuery{Event: "evt1a", Type: "billing.ticket.sold"})
	require.NoError(t, err)
	require.Len(t, sold, 1)
	require.Equal(t, "2000", sold[0].Attributes["newPrice"])
	require.Equal(t, "a1", sold[0].Ticket)

	byTicket, err := journal.List(context.Background(), JournalQuery{Ticket: "a1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, byTicket, 1)
	require.Equal(t, "billing.ticket.refunded", byTicket[0].Type)
}

func TestOpenJournalDBRejectsUnknownDriver(t *testing.T) {
	_, err := OpenJournalDB("mysql", "whatever")
	require.ErrorContains(t, err, "unknown driver")
}
