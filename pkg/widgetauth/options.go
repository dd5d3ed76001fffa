package widgetauth

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/moweilong/widgetauth/pkg/broadcast"
	"github.com/moweilong/widgetauth/pkg/credential"
	"github.com/moweilong/widgetauth/pkg/log"
	"github.com/moweilong/widgetauth/pkg/schedule"
)

// Credentials performs the mint and refresh calls for one API base.
// *credential.Client implements it.
type Credentials interface {
	Mint(ctx context.Context, ownerToken string) (string, error)
	Refresh(ctx context.Context, current string) (string, error)
}

// CredentialsFactory builds the Credentials of a normalized API base.
type CredentialsFactory func(apiBase string, httpClient *http.Client) Credentials

// Option configures a Registry and the managers it creates.
type Option func(*options)

type options struct {
	clock          clock.WithDelayedExecution
	httpClient     *http.Client
	credentials    CredentialsFactory
	policy         schedule.Policy
	initialBackoff time.Duration
	maxBackoff     time.Duration
	opTimeout      time.Duration
	idleTimeout    time.Duration
	broadcaster    broadcast.Broadcaster
	logger         log.Logger
	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
}

func defaultOptions() *options {
	return &options{
		clock:      clock.RealClock{},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		credentials: func(apiBase string, c *http.Client) Credentials {
			return credential.NewClient(apiBase, credential.WithHTTPClient(c))
		},
		policy:         schedule.DefaultPolicy(),
		initialBackoff: schedule.DefaultInitialBackoff,
		maxBackoff:     schedule.DefaultMaxBackoff,
		opTimeout:      30 * time.Second,
		broadcaster:    broadcast.Nop{},
		logger:         log.Default(),
		tracerProvider: otel.GetTracerProvider(),
	}
}

// WithClock drives timers from c. Tests pass a fake clock.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithHTTPClient sets the client used for credential calls and APIFetch.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithCredentials replaces the HTTP credential client.
func WithCredentials(f CredentialsFactory) Option {
	return func(o *options) {
		if f != nil {
			o.credentials = f
		}
	}
}

// WithRefreshPolicy overrides the refresh timing.
func WithRefreshPolicy(p schedule.Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithBackoff overrides the retry delays of failed refresh cycles.
func WithBackoff(initial, max time.Duration) Option {
	return func(o *options) {
		if initial > 0 {
			o.initialBackoff = initial
		}
		if max > 0 {
			o.maxBackoff = max
		}
	}
}

// WithOperationTimeout bounds each mint or refresh call. Zero disables the bound.
func WithOperationTimeout(d time.Duration) Option {
	return func(o *options) {
		o.opTimeout = d
	}
}

// WithIdleTimeout makes the registry destroy managers unused for d that have
// no subscribers. Zero keeps managers until they are destroyed explicitly.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = d
	}
}

// WithBroadcaster sets the channel token events are emitted on.
func WithBroadcaster(b broadcast.Broadcaster) Option {
	return func(o *options) {
		if b != nil {
			o.broadcaster = b
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics registers the registry metrics with r.
func WithMetrics(r prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}

// WithTracerProvider sets where mint and refresh spans are recorded.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}
