package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/notify"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// recorder is a Sink that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestFailure_CarriesKindAndCode(t *testing.T) {
	e := notify.Failure("assign tenant", "room:r1", &dorm.CapacityError{RoomID: "r1", Capacity: 2, Occupants: 2, Incoming: 1})
	assert.Equal(t, notify.OutcomeFailure, e.Outcome)
	assert.Equal(t, dorm.KindCapacity, e.Kind)
	assert.Equal(t, "RoomFull", e.Code)
	assert.NotEmpty(t, e.Message)

	ok := notify.From("assign tenant", "room:r1", "assigned", nil).By(dorm.Actor{ID: "staff-1"})
	assert.Equal(t, notify.OutcomeSuccess, ok.Outcome)
	assert.Equal(t, "staff-1", ok.ActorID)
	assert.Empty(t, ok.Code)
}

func TestLogSink_LevelsByOutcome(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := notify.NewLogSink(zap.New(core))
	ctx := context.Background()

	sink.Notify(ctx, notify.Success("sync prices", "rooms", "3 rooms updated"))
	sink.Notify(ctx, notify.Failure("pay bill", "bill:b1", dorm.ErrAlreadyPaid))
	sink.Notify(ctx, notify.Failure("generate bills", "2024-03", dorm.Persistence("insert", errors.New("disk"))))

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, zap.ErrorLevel, entries[2].Level)
	assert.Equal(t, "AlreadyPaid", entries[1].ContextMap()["code"])
}

func TestMulti_FansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	notify.Multi{a, nil, b}.Notify(context.Background(), notify.Success("x", "y", "z"))
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestWebhookSink_PostsJSON(t *testing.T) {
	var got notify.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := notify.NewWebhookSink(srv.URL, zap.NewNop())
	sink.Notify(context.Background(), notify.Failure("generate bills", "room:101", dorm.ErrMeterReadingBelowPrevious))

	assert.Equal(t, "generate bills", got.Operation)
	assert.Equal(t, "MeterReadingBelowPrevious", got.Code)
	assert.Equal(t, dorm.KindConflict, got.Kind)
}

func TestWebhookSink_ServerErrorIsLoggedNotReturned(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	notify.NewWebhookSink(srv.URL, zap.New(core)).Notify(context.Background(), notify.Success("sync prices", "rooms", "ok"))

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "webhook rejected event", logs.All()[0].Message)
}

func TestWebhookSink_UnreachableDoesNotPanic(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := notify.NewWebhookSink("http://127.0.0.1:1/hook", zap.New(core))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Notify(ctx, notify.Success("x", "y", "z"))
	assert.Equal(t, 1, logs.Len())
}
