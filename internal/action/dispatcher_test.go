package action

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/meeting-agent/internal/intent"
)

func TestDispatcher_RoutesByKind(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	var emails, notes int32
	require.NoError(t, d.Register(intent.KindEmail, HandlerFunc(func(ctx context.Context, req Request) Result {
		atomic.AddInt32(&emails, 1)
		assert.Equal(t, "bob@example.com", req.Payload.(intent.EmailDetails).To[0])
		return Result{Success: true}
	})))
	require.NoError(t, d.Register(intent.KindNote, HandlerFunc(func(ctx context.Context, req Request) Result {
		atomic.AddInt32(&notes, 1)
		return Result{Success: true}
	})))

	res := d.Dispatch(context.Background(), Request{
		ID:      "a1",
		Payload: intent.EmailDetails{To: []string{"bob@example.com"}, Subject: "Lunch"},
	})
	assert.True(t, res.Success)
	assert.NoError(t, res.Err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&emails))
	assert.EqualValues(t, 0, atomic.LoadInt32(&notes))

	assert.Equal(t, []intent.ActionKind{intent.KindEmail, intent.KindNote}, d.Kinds())
}

func TestDispatcher_NoHandler(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	res := d.Dispatch(context.Background(), Request{Payload: intent.OrderDetails{Item: "pens", Quantity: 1}})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNoHandler)

	res = d.Dispatch(context.Background(), Request{})
	assert.False(t, res.Success)
	assert.Error(t, res.Err)
}

func TestDispatcher_FailureReportedOnce(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	var calls int32
	boom := errors.New("calendar api down")
	require.NoError(t, d.Register(intent.KindCalendarEvent, HandlerFunc(func(ctx context.Context, req Request) Result {
		atomic.AddInt32(&calls, 1)
		return Failed(boom)
	})))

	res := d.Dispatch(context.Background(), Request{Payload: intent.CalendarDetails{Title: "x"}})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, boom)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "no retry")
}

func TestDispatcher_RecoversPanic(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())
	require.NoError(t, d.Register(intent.KindCalendarEvent, HandlerFunc(func(ctx context.Context, req Request) Result {
		panic("nil calendar service")
	})))

	var res Result
	assert.NotPanics(t, func() {
		res = d.Dispatch(context.Background(), Request{Payload: intent.CalendarDetails{Title: "x"}})
	})
	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Err, "panicked")
}

func TestDispatcher_UnsuccessfulWithoutError(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())
	require.NoError(t, d.Register(intent.KindTask, HandlerFunc(func(ctx context.Context, req Request) Result {
		return Result{}
	})))

	res := d.Dispatch(context.Background(), Request{Payload: intent.TaskDetails{Title: "x"}})
	assert.False(t, res.Success)
	assert.Error(t, res.Err)
}

func TestDispatcher_Register(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())
	assert.Error(t, d.Register(intent.KindNoAction, HandlerFunc(func(ctx context.Context, req Request) Result { return Result{} })))
	assert.Error(t, d.Register(intent.KindEmail, nil))
}
