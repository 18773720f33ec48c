package events

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	closed   bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return nil
}
func (f *fakeConn) Drain() error { return nil }
func (f *fakeConn) Close()       { f.closed = true }

func TestNatsPublisher_Subject(t *testing.T) {
	fc := &fakeConn{}
	p := newNatsPublisher(fc, "")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, p.Publish(context.Background(), Event{
		Type:       TypeDepositConfirmed,
		OccurredAt: at,
		Data:       map[string]any{"deposit_id": "d-1"},
	}))
	assert.Equal(t, []string{"lunorise.deposit.confirmed"}, fc.subjects)

	var got map[string]any
	require.NoError(t, json.Unmarshal(fc.payloads[0], &got))
	assert.Equal(t, TypeDepositConfirmed, got["type"])

	assert.Equal(t, "acme.income.paid", newNatsPublisher(fc, "acme.").Subject(TypeIncomePaid))

	require.NoError(t, p.Close())
	assert.True(t, fc.closed)
}

func TestNatsPublisher_CanceledCtx(t *testing.T) {
	fc := &fakeConn{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, newNatsPublisher(fc, "x").Publish(ctx, Event{Type: TypeIncomePaid}))
	assert.Empty(t, fc.subjects)
}

func TestMemory(t *testing.T) {
	m := &Memory{}
	_ = m.Publish(context.Background(), Event{Type: TypeIncomePaid})
	_ = m.Publish(context.Background(), Event{Type: TypeDepositConfirmed})
	assert.Len(t, m.Events(), 2)
	assert.Len(t, m.OfType(TypeIncomePaid), 1)
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}
