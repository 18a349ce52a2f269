package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/lexiqai/meeting-agent/internal/action"
	"github.com/lexiqai/meeting-agent/internal/action/handlers"
	"github.com/lexiqai/meeting-agent/internal/config"
	"github.com/lexiqai/meeting-agent/internal/contacts"
	"github.com/lexiqai/meeting-agent/internal/google"
	"github.com/lexiqai/meeting-agent/internal/ingress"
	"github.com/lexiqai/meeting-agent/internal/intent"
	"github.com/lexiqai/meeting-agent/internal/llm"
	"github.com/lexiqai/meeting-agent/internal/observability"
	"github.com/lexiqai/meeting-agent/internal/resilience"
	"github.com/lexiqai/meeting-agent/internal/session"
	"github.com/lexiqai/meeting-agent/internal/store"
	"github.com/lexiqai/meeting-agent/internal/stt"
	"github.com/lexiqai/meeting-agent/internal/summary"
	"github.com/lexiqai/meeting-agent/internal/tts"
)

// app holds everything shared by the sessions of one process
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	book       *contacts.Book
	completer  llm.Completer
	classifier intent.Classifier
	synth      tts.Synthesizer
	dispatcher *action.Dispatcher
	reporter   *summary.Reporter
	summarizer *summary.Summarizer

	// optional integrations, nil when not configured
	mailer   *google.Mailer
	calendar *google.Services
	notes    store.NoteRepo
	archiver *summary.GCSArchiver

	checks  map[string]observability.HealthCheckFunc
	closers []func() error
}

// newApp wires the full server. Only configuration errors and failures of
// required vendors are returned; optional integrations that are not
// configured leave their action unregistered.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		checks: make(map[string]observability.HealthCheckFunc),
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	var err error
	if a.book, err = contacts.Load(a.cfg.ContactsFile); err != nil {
		return err
	}
	if err := a.wireCompleter(ctx); err != nil {
		return err
	}
	if err := a.wireClassifier(); err != nil {
		return err
	}

	a.synth, err = tts.NewCartesiaClient(tts.CartesiaConfig{
		APIKey:     a.cfg.CartesiaAPIKey,
		VoiceID:    a.cfg.CartesiaVoiceID,
		ModelID:    a.cfg.CartesiaModelID,
		SampleRate: a.cfg.CartesiaSampleRate,
		Retry:      retryConfig(a.cfg),
		Breaker:    breaker(a.cfg, "cartesia"),
	})
	if err != nil {
		return err
	}

	if err := a.wireIntegrations(ctx); err != nil {
		return err
	}
	if err := a.wireActions(); err != nil {
		return err
	}
	a.wireReporter()
	return nil
}

// Close releases clients in reverse order of creation
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) wireCompleter(ctx context.Context) error {
	switch a.cfg.LLMProvider {
	case "vertex":
		v, err := llm.NewVertexCompleter(ctx, llm.VertexConfig{
			Project:         a.cfg.VertexProject,
			Location:        a.cfg.VertexLocation,
			Model:           a.cfg.VertexModel,
			Temperature:     a.cfg.LLMTemperature,
			CredentialsFile: a.cfg.GoogleCredentialsFile,
		})
		if err != nil {
			return err
		}
		a.completer = v
		a.closers = append(a.closers, v.Close)
	default:
		c, err := llm.NewOpenAICompleter(llm.OpenAIConfig{
			APIKey:      a.cfg.LLMAPIKey,
			BaseURL:     a.cfg.LLMBaseURL,
			Model:       a.cfg.LLMModel,
			Temperature: a.cfg.LLMTemperature,
			Retry:       retryConfig(a.cfg),
			Breaker:     breaker(a.cfg, "llm"),
		})
		if err != nil {
			return err
		}
		a.completer = c
	}
	a.summarizer = summary.NewSummarizer(a.completer)
	return nil
}

func (a *app) wireClassifier() error {
	if a.cfg.ClassifierBackend != "grpc" {
		a.classifier = intent.NewLLMClassifier(a.completer, a.logger)
		return nil
	}

	c, err := intent.NewGRPCClassifier(intent.GRPCConfig{
		Target:  a.cfg.ClassifierURL,
		TLS:     a.cfg.ClassifierTLSEnabled,
		Timeout: time.Duration(a.cfg.ClassifierTimeout) * time.Second,
		Retry:   retryConfig(a.cfg),
		Breaker: breaker(a.cfg, "classifier"),
	}, a.logger)
	if err != nil {
		return err
	}
	a.classifier = c
	a.checks["classifier"] = probe(c.Check)
	a.closers = append(a.closers, c.Close)
	return nil
}

// wireIntegrations connects the optional backing services
func (a *app) wireIntegrations(ctx context.Context) error {
	if a.cfg.GoogleCredentialsFile != "" {
		svc, err := google.NewServices(ctx, a.cfg.GoogleCredentialsFile)
		if err != nil {
			return err
		}
		a.calendar = svc
		a.mailer = google.NewMailer(svc.Gmail, a.cfg.GoogleSender)
	}

	if a.cfg.PostgresDSN != "" {
		db, err := store.OpenPostgres(a.cfg.PostgresDSN)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		a.closers = append(a.closers, sqlDB.Close)
		if err := store.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate notes: %w", err)
		}
		a.notes = store.NewNoteRepo(db)
		a.checks["postgres"] = probe(store.Ping(db))
	}

	if a.cfg.ArchiveBucket != "" {
		var opts []option.ClientOption
		if a.cfg.GoogleCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(a.cfg.GoogleCredentialsFile))
		}
		archiver, err := summary.NewGCSArchiver(ctx, a.cfg.ArchiveBucket, opts...)
		if err != nil {
			return err
		}
		a.archiver = archiver
		a.closers = append(a.closers, archiver.Close)
	}
	return nil
}

// wireActions registers a handler for every action whose backend is configured
func (a *app) wireActions() error {
	d := action.NewDispatcher(a.logger)
	register := func(kind intent.ActionKind, h action.Handler) error {
		if err := d.Register(kind, h); err != nil {
			return fmt.Errorf("register %s handler: %w", kind, err)
		}
		return nil
	}

	if a.mailer != nil {
		if err := register(intent.KindEmail, handlers.NewEmailHandler(a.mailer, a.logger)); err != nil {
			return err
		}
	}
	if a.calendar != nil {
		if err := register(intent.KindCalendarEvent, handlers.NewCalendarHandler(a.calendar.Calendar, "", a.logger)); err != nil {
			return err
		}
	}
	if a.notes != nil {
		if err := register(intent.KindNote, handlers.NewNoteHandler(a.notes, a.logger)); err != nil {
			return err
		}
	}

	if a.cfg.LinearAPIKey != "" {
		h, err := handlers.NewTaskHandler(handlers.LinearConfig{APIKey: a.cfg.LinearAPIKey, TeamID: a.cfg.LinearTeamID}, a.logger)
		if err != nil {
			return err
		}
		if err := register(intent.KindTask, h); err != nil {
			return err
		}
	}

	if a.cfg.PerplexityAPIKey != "" {
		search, err := llm.NewOpenAICompleter(llm.OpenAIConfig{
			APIKey:  a.cfg.PerplexityAPIKey,
			BaseURL: handlers.PerplexityBaseURL,
			Model:   a.cfg.PerplexityModel,
			Retry:   retryConfig(a.cfg),
			Breaker: breaker(a.cfg, "perplexity"),
		})
		if err != nil {
			return err
		}
		if err := register(intent.KindWebSearch, handlers.NewSearchHandler(search, a.logger)); err != nil {
			return err
		}
	}

	if a.cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr, Password: a.cfg.RedisPassword})
		a.closers = append(a.closers, rdb.Close)
		a.checks["redis"] = probe(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		if err := register(intent.KindOrder, handlers.NewOrderHandler(rdb, a.cfg.OrderStream, a.logger)); err != nil {
			return err
		}
	}

	if err := register(intent.KindCatchUp, handlers.NewCatchUpHandler(a.completer, a.logger)); err != nil {
		return err
	}

	kinds := make([]string, 0, len(d.Kinds()))
	for _, k := range d.Kinds() {
		kinds = append(kinds, k.String())
	}
	a.logger.Info().Strs("actions", kinds).Msg("Action handlers registered")
	a.dispatcher = d
	return nil
}

func (a *app) wireReporter() {
	var (
		mailer   summary.Mailer
		archiver summary.Archiver
	)
	if a.mailer != nil {
		mailer = a.mailer
	}
	if a.archiver != nil {
		archiver = a.archiver
	}
	a.reporter = summary.NewReporter(summary.ReporterConfig{
		Recipients: a.cfg.SummaryRecipients,
		Contacts:   a.book,
	}, a.summarizer, mailer, a.notes, archiver, a.logger)
}

// NewSession implements ingress.Factory: one Deepgram session per meeting
func (a *app) NewSession(ctx context.Context, m ingress.Meeting, speaker tts.Speaker) (ingress.Session, error) {
	stream, err := stt.NewDeepgramStream(stt.DeepgramConfig{
		APIKey:     a.cfg.DeepgramAPIKey,
		Model:      a.cfg.DeepgramModel,
		Language:   a.cfg.DeepgramLanguage,
		SampleRate: a.cfg.AudioSampleRate,
		Channels:   a.cfg.AudioChannels,
		Reconnect:  reconnectConfig(a.cfg),
		Breaker:    breaker(a.cfg, "deepgram"),
	}, m.Logger)
	if err != nil {
		return nil, err
	}
	if err := stream.Open(ctx); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("open transcription stream: %w", err)
	}

	sess, err := session.New(session.Config{
		ID:               m.SessionID,
		MeetingID:        m.MeetingID,
		Participants:     m.Participants,
		Contacts:         a.book,
		WakePhrases:      a.cfg.WakePhrases,
		TranscriptWindow: a.cfg.TranscriptWindow,
		PollInterval:     a.cfg.PollEvery(),
		EchoWindow:       a.cfg.EchoWindow(),
		ClassifyTimeout:  time.Duration(a.cfg.ClassifierTimeout) * time.Second,
		ActiveTimeout:    a.cfg.ActiveWindow(),
		TaskTimeout:      a.cfg.TaskTimeout(),
	}, session.Deps{
		Stream:     stream,
		Classifier: a.classifier,
		Dispatcher: a.dispatcher,
		Speaker:    speaker,
		Finalizer:  a.reporter,
		Metrics:    m.Metrics,
		Logger:     m.Logger,
	})
	if err != nil {
		_ = stream.Close()
		return nil, err
	}
	return sess, nil
}

func retryConfig(cfg *config.Config) *resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if cfg.RetryMaxAttempts > 0 {
		rc.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryInitialBackoff > 0 {
		rc.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond
	}
	return rc
}

func reconnectConfig(cfg *config.Config) *resilience.ReconnectConfig {
	rc := resilience.DefaultReconnectConfig()
	if cfg.ReconnectMaxAttempts > 0 {
		rc.MaxAttempts = cfg.ReconnectMaxAttempts
	}
	if cfg.ReconnectBackoff > 0 {
		rc.Backoff = time.Duration(cfg.ReconnectBackoff) * time.Millisecond
	}
	return rc
}

// breaker builds a circuit breaker whose state is exported to prometheus
func breaker(cfg *config.Config, name string) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(name, cfg.CircuitBreakerMaxFailures, time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second).
		WithObserver(resilience.BreakerMetrics{
			OnState:   observability.UpdateCircuitBreakerState,
			OnFailure: observability.IncrementCircuitBreakerFailures,
		})
}

// probe adapts an error-only check to a readiness check
func probe(check func(ctx context.Context) error) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		if err := check(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
}
