package intent

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/lexiqai/meeting-agent/internal/resilience"
)

type classifierFunc func(ctx context.Context, req Request) (Result, error)

func (f classifierFunc) Classify(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

func startClassifierServer(t *testing.T, c Classifier) *GRPCClassifier {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterClassifierServer(srv, c, zerolog.Nop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewGRPCClassifier(GRPCConfig{
		Target:  "passthrough:///bufnet",
		Timeout: 2 * time.Second,
		Retry:   &resilience.RetryConfig{MaxAttempts: 1},
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGRPCClassifier_RoundTrip(t *testing.T) {
	start := time.Date(2026, 10, 20, 15, 0, 0, 0, time.UTC)

	var got Request
	client := startClassifierServer(t, classifierFunc(func(ctx context.Context, req Request) (Result, error) {
		got = req
		return Result{
			Kind:     KindCalendarEvent,
			Response: "Scheduled.",
			Payload: CalendarDetails{
				Title:     "Planning",
				Start:     start,
				End:       start.Add(time.Hour),
				Attendees: []string{"alice@example.com"},
			},
		}, nil
	}))

	res, err := client.Classify(context.Background(), Request{
		Text:         "schedule planning with alice at three",
		Pending:      "schedule planning",
		Participants: []string{"Dana", "Eli"},
		Contacts:     testBook(t),
		Now:          start.Add(-6 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, "schedule planning with alice at three", got.Text)
	assert.Equal(t, "schedule planning", got.Pending)
	assert.Equal(t, []string{"Dana", "Eli"}, got.Participants)
	assert.Equal(t, 2, got.Contacts.Len())
	assert.True(t, got.Now.Equal(start.Add(-6*time.Hour)))

	assert.Equal(t, OutcomeAction, res.Outcome())
	assert.Equal(t, "Scheduled.", res.Response)
	d := res.Payload.(CalendarDetails)
	assert.Equal(t, "Planning", d.Title)
	assert.True(t, d.Start.Equal(start))
	assert.Equal(t, time.Hour, d.End.Sub(d.Start))
	assert.Equal(t, []string{"alice@example.com"}, d.Attendees)
}

func TestGRPCClassifier_NeedsMoreInfo(t *testing.T) {
	client := startClassifierServer(t, classifierFunc(func(ctx context.Context, req Request) (Result, error) {
		return Result{Kind: KindEmail, NeedsMoreInfo: true, Response: "Who should get it?"}, nil
	}))

	res, err := client.Classify(context.Background(), Request{Text: "send an email"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsInfo, res.Outcome())
	assert.Equal(t, "Who should get it?", res.Response)
}

func TestGRPCClassifier_ServerErrorsFailClosed(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"malformed", ErrMalformed},
		{"upstream", errors.New("llm unavailable")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := startClassifierServer(t, classifierFunc(func(ctx context.Context, req Request) (Result, error) {
				return Result{Kind: KindUnknown}, tt.err
			}))

			res, err := client.Classify(context.Background(), Request{Text: "hi"})
			assert.Error(t, err)
			assert.Equal(t, KindUnknown, res.Kind)
			assert.Equal(t, OutcomeNoAction, res.Outcome())
		})
	}
}

func TestGRPCClassifier_Health(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := RegisterClassifierServer(srv, classifierFunc(func(ctx context.Context, req Request) (Result, error) {
		return Result{Kind: KindNoAction}, nil
	}), zerolog.Nop())
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	client, err := NewGRPCClassifier(GRPCConfig{
		Target: "passthrough:///bufnet",
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}, zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Check(ctx))

	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	assert.Error(t, client.Check(ctx))
}

func TestNewGRPCClassifier_RequiresTarget(t *testing.T) {
	_, err := NewGRPCClassifier(GRPCConfig{}, zerolog.Nop())
	assert.Error(t, err)
}
