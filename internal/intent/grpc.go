package intent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/meeting-agent/internal/contacts"
	"github.com/lexiqai/meeting-agent/internal/resilience"
)

const (
	// ServiceName is the gRPC service exposing a Classifier
	ServiceName    = "meetingagent.intent.v1.IntentClassifier"
	classifyMethod = "/" + ServiceName + "/Classify"
)

// GRPCConfig configures the remote classifier client
type GRPCConfig struct {
	Target  string
	TLS     bool
	Timeout time.Duration

	Retry   *resilience.RetryConfig
	Breaker *resilience.CircuitBreaker

	// DialOptions are appended after the defaults
	DialOptions []grpc.DialOption
}

// GRPCClassifier calls a remote classifier service. Requests and decisions
// travel as google.protobuf.Struct using the same schema as the LLM output.
type GRPCClassifier struct {
	cfg    GRPCConfig
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	logger zerolog.Logger
}

// NewGRPCClassifier creates a client; the connection is established lazily
func NewGRPCClassifier(cfg GRPCConfig, logger zerolog.Logger) (*GRPCClassifier, error) {
	if cfg.Target == "" {
		return nil, errors.New("intent: classifier target is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	var opts []grpc.DialOption
	if cfg.TLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}))
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier client for %s: %w", cfg.Target, err)
	}

	return &GRPCClassifier{
		cfg:    cfg,
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		logger: logger.With().Str("component", "intent_grpc").Str("target", cfg.Target).Logger(),
	}, nil
}

// Classify implements Classifier
func (c *GRPCClassifier) Classify(ctx context.Context, req Request) (Result, error) {
	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	in, err := encodeRequest(req)
	if err != nil {
		return Result{Kind: KindUnknown}, fmt.Errorf("encode classify request: %w", err)
	}

	out := &structpb.Struct{}
	call := func() error {
		return resilience.Retry(ctx, c.cfg.Retry, isRetryableStatus, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
			out.Reset()
			return c.conn.Invoke(callCtx, classifyMethod, in, out)
		})
	}

	if c.cfg.Breaker != nil {
		err = c.cfg.Breaker.Call(call)
	} else {
		err = call()
	}
	if err != nil {
		return Result{Kind: KindUnknown}, fmt.Errorf("remote classify: %w", err)
	}

	raw, err := protojson.Marshal(out)
	if err != nil {
		return Result{Kind: KindUnknown}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	res, err := Parse(string(raw), ParseOptions{Contacts: req.Contacts, Location: req.Now.Location()})
	if err != nil {
		c.logger.Warn().Err(err).Msg("Discarding malformed remote classification")
	}
	return res, err
}

// Check reports whether the remote service is serving
func (c *GRPCClassifier) Check(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("classifier health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("classifier is %s", resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection
func (c *GRPCClassifier) Close() error {
	return c.conn.Close()
}

func isRetryableStatus(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return true
	case codes.DeadlineExceeded:
		return true
	}
	return false
}

type classifierServer struct {
	classifier Classifier
	logger     zerolog.Logger
}

// RegisterClassifierServer exposes a Classifier on a gRPC server together with
// the standard health service. The returned health server reports SERVING.
func RegisterClassifierServer(s *grpc.Server, c Classifier, logger zerolog.Logger) *health.Server {
	srv := &classifierServer{
		classifier: c,
		logger:     logger.With().Str("component", "intent_server").Logger(),
	}
	s.RegisterService(&classifierServiceDesc, srv)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

var classifierServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Classify",
		Handler:    classifyHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "meetingagent/intent/v1/intent.proto",
}

func classifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*classifierServer)
	if interceptor == nil {
		return s.classify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: classifyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.classify(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *classifierServer) classify(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := decodeRequest(in)

	res, err := s.classifier.Classify(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, ErrMalformed):
		return nil, status.Error(codes.DataLoss, err.Error())
	case ctx.Err() != nil:
		return nil, status.FromContextError(ctx.Err()).Err()
	default:
		s.logger.Error().Err(err).Msg("Classification failed")
		return nil, status.Error(codes.Unavailable, err.Error())
	}

	out, err := encodeResult(res)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func encodeRequest(req Request) (*structpb.Struct, error) {
	book := make([]any, 0, req.Contacts.Len())
	for _, c := range req.Contacts.All() {
		aliases := make([]any, len(c.Aliases))
		for i, a := range c.Aliases {
			aliases[i] = a
		}
		book = append(book, map[string]any{"name": c.Name, "email": c.Email, "aliases": aliases})
	}

	return structpb.NewStruct(map[string]any{
		"text":         req.Text,
		"pending":      req.Pending,
		"transcript":   req.Transcript,
		"participants": toAnyList(req.Participants),
		"contacts":     book,
		"now":          req.Now.Format(time.RFC3339Nano),
	})
}

func decodeRequest(in *structpb.Struct) Request {
	f := in.GetFields()
	req := Request{
		Text:       f["text"].GetStringValue(),
		Pending:    f["pending"].GetStringValue(),
		Transcript: f["transcript"].GetStringValue(),
	}
	for _, v := range f["participants"].GetListValue().GetValues() {
		req.Participants = append(req.Participants, v.GetStringValue())
	}

	var list []contacts.Contact
	for _, v := range f["contacts"].GetListValue().GetValues() {
		cf := v.GetStructValue().GetFields()
		c := contacts.Contact{Name: cf["name"].GetStringValue(), Email: cf["email"].GetStringValue()}
		for _, a := range cf["aliases"].GetListValue().GetValues() {
			c.Aliases = append(c.Aliases, a.GetStringValue())
		}
		list = append(list, c)
	}
	req.Contacts = contacts.New(list)

	if now, err := time.Parse(time.RFC3339Nano, f["now"].GetStringValue()); err == nil {
		req.Now = now
	}
	return req
}

// encodeResult renders a decision in the wire schema Parse accepts
func encodeResult(res Result) (*structpb.Struct, error) {
	if res.Kind == KindUnknown {
		return nil, errors.New("cannot encode an unknown decision")
	}

	details := map[string]any{}
	switch p := res.Payload.(type) {
	case EmailDetails:
		details = map[string]any{"to": toAnyList(p.To), "subject": p.Subject, "body": p.Body}
	case CalendarDetails:
		details = map[string]any{
			"title":       p.Title,
			"location":    p.Location,
			"description": p.Description,
			"start_time":  p.Start.Format(time.RFC3339),
			"end_time":    p.End.Format(time.RFC3339),
			"attendees":   toAnyList(p.Attendees),
		}
	case NoteDetails:
		details = map[string]any{"title": p.Title, "content": p.Body}
	case TaskDetails:
		details = map[string]any{"title": p.Title, "description": p.Description, "priority": float64(p.Priority), "due_date": p.Due}
	case SearchDetails:
		details = map[string]any{"query": p.Query}
	case OrderDetails:
		details = map[string]any{"item": p.Item, "quantity": float64(p.Quantity)}
	}

	return structpb.NewStruct(map[string]any{
		"action":             res.Kind.String(),
		"more_info_required": res.NeedsMoreInfo,
		"response":           res.Response,
		"details":            details,
	})
}

func toAnyList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
