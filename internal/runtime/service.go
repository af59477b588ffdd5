package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/keelson/internal/runtime/config"
	errspkg "github.com/drblury/keelson/internal/runtime/errors"
	loggingpkg "github.com/drblury/keelson/internal/runtime/logging"
	metricspkg "github.com/drblury/keelson/internal/runtime/metrics"
	"github.com/drblury/keelson/internal/runtime/payload"
	"github.com/drblury/keelson/internal/runtime/schema"
	"github.com/drblury/keelson/internal/runtime/tags"
	transportpkg "github.com/drblury/keelson/internal/runtime/transport"
	"github.com/drblury/keelson/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

const httpShutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to fall back to the bundled resources and defaults.
type ServiceDependencies struct {
	// Registry and Pool replace the tag registry and schema pool otherwise
	// loaded from the configuration or the bundled resources.
	Registry *tags.Registry
	Pool     *schema.Pool

	// Metrics receives envelope statistics. MetricsRegisterer is where router
	// and envelope collectors are registered; nil means the Prometheus default.
	Metrics           *metricspkg.Envelope
	MetricsRegisterer prometheus.Registerer

	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
}

// HandlerKind distinguishes the handlers registered on a Service.
type HandlerKind string

const (
	HandlerKindSubscriber HandlerKind = "subscriber"
	HandlerKindQueryable  HandlerKind = "queryable"
)

// HandlerInfo describes one registered handler.
type HandlerInfo struct {
	Name         string      `json:"name"`
	Kind         HandlerKind `json:"kind"`
	Topic        string      `json:"topic"`
	BrokerTopic  string      `json:"broker_topic"`
	RegisteredAt time.Time   `json:"registered_at"`
}

// Service binds the keelson conventions to a Watermill publisher, subscriber
// and router.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport    transport.Transport
	capabilities transport.Capabilities
	router       *message.Router

	decoder    *payload.Decoder
	metrics    *metricspkg.Envelope
	registerer prometheus.Registerer

	handlers   []HandlerInfo
	handlersMu sync.RWMutex

	runMu  sync.Mutex
	runCtx context.Context

	httpServers   map[int]*http.ServeMux
	running       []*http.Server
	httpServersMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewService constructs a Service for the supplied configuration. Register
// handlers on the returned Service before or after calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating keelson service", loggingpkg.LogFields{
		"realm":                   conf.Realm,
		"entity_id":               conf.EntityID,
		loggingpkg.FieldTransport: conf.PubSubSystem,
		"config":                  conf,
	})

	registry, pool, err := loadResources(conf, deps)
	if err != nil {
		return nil, err
	}

	registerer := deps.MetricsRegisterer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	envelopeMetrics := deps.Metrics
	if envelopeMetrics == nil {
		envelopeMetrics = metricspkg.NewEnvelope(registerer)
	}
	if conf.MetricsEnabled {
		if err := envelopeMetrics.Register(); err != nil {
			return nil, fmt.Errorf("register envelope metrics: %w", err)
		}
	}

	s := &Service{
		Conf:         conf,
		Logger:       log,
		capabilities: transport.GetCapabilities(conf.PubSubSystem),
		decoder:      payload.NewDecoder(registry, pool),
		metrics:      envelopeMetrics,
		registerer:   registerer,
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	s.transport, err = factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build %q transport: %w", conf.PubSubSystem, err)
	}
	if s.transport.Publisher == nil {
		_ = s.transport.Close()
		return nil, errspkg.ErrPublisherRequired
	}
	if s.transport.Subscriber == nil {
		_ = s.transport.Close()
		return nil, errspkg.ErrSubscriberRequired
	}

	s.router, err = message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		_ = s.transport.Close()
		return nil, err
	}
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		_ = s.transport.Close()
		return nil, err
	}

	return s, nil
}

func loadResources(conf *configpkg.Config, deps ServiceDependencies) (*tags.Registry, *schema.Pool, error) {
	registry := deps.Registry
	if registry == nil {
		var err error
		if conf.TagsFile != "" {
			registry, err = tags.LoadFile(conf.TagsFile)
		} else {
			registry, err = tags.Default()
		}
		if err != nil {
			return nil, nil, err
		}
	}

	pool := deps.Pool
	if pool == nil {
		var err error
		if conf.DescriptorBundleFile != "" {
			pool, err = schema.LoadBundleFile(conf.DescriptorBundleFile)
		} else {
			pool, err = schema.Default()
		}
		if err != nil {
			return nil, nil, err
		}
	}
	return registry, pool, nil
}

// Start runs the underlying Watermill router until the provided context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	s.runCtx = ctx
	s.runMu.Unlock()

	s.startHTTPServers()
	return routerRun(s.router, ctx)
}

// Running is closed once the router is running and every handler subscribed.
func (s *Service) Running() <-chan struct{} {
	return s.router.Running()
}

// Close stops the router, the transport and every HTTP server. It is safe to
// call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.router.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close router: %w", err))
		}
		if err := s.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
		if err := s.stopHTTPServers(); err != nil {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Decoder returns the payload decoder built from the service's tag registry
// and schema pool.
func (s *Service) Decoder() *payload.Decoder { return s.decoder }

// Metrics returns the envelope statistics recorded by this service.
func (s *Service) Metrics() *metricspkg.Envelope { return s.metrics }

// Transport returns the transport the service publishes and subscribes on.
func (s *Service) Transport() transport.Transport { return s.transport }

// Capabilities returns the capabilities registered for the configured transport.
func (s *Service) Capabilities() transport.Capabilities { return s.capabilities }

// Handlers lists the registered handlers in registration order.
func (s *Service) Handlers() []HandlerInfo {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return append([]HandlerInfo(nil), s.handlers...)
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// addHandler records info and attaches handler to the router. Handlers added
// while the router is running are started immediately.
func (s *Service) addHandler(info HandlerInfo, handler message.NoPublishHandlerFunc) error {
	s.handlersMu.Lock()
	for _, existing := range s.handlers {
		if existing.Name == info.Name {
			s.handlersMu.Unlock()
			return fmt.Errorf("%w: %s", errspkg.ErrHandlerNameTaken, info.Name)
		}
	}
	info.RegisteredAt = time.Now()
	s.handlers = append(s.handlers, info)
	s.handlersMu.Unlock()

	s.router.AddNoPublisherHandler(info.Name, info.BrokerTopic, s.transport.Subscriber, handler)
	s.Logger.Info("Registered handler", loggingpkg.LogFields{
		loggingpkg.FieldHandler: info.Name,
		loggingpkg.FieldTopic:   info.Topic,
		"kind":                  info.Kind,
	})

	if s.router.IsRunning() {
		s.runMu.Lock()
		ctx := s.runCtx
		s.runMu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		return s.router.RunHandlers(ctx)
	}
	return nil
}

// RegisterHTTPHandler serves handler on pattern at port once the service starts.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.running = append(s.running, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
	s.httpServers = nil
}

func (s *Service) stopHTTPServers() error {
	s.httpServersMu.Lock()
	servers := s.running
	s.running = nil
	s.httpServersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	var errs []string
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", srv.Addr, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown http servers: %s", strings.Join(errs, "; "))
	}
	return nil
}
