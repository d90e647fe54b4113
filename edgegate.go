package edgegate

import (
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/edgegate/edgegate/catalog"
	"github.com/edgegate/edgegate/logging"
	"github.com/edgegate/edgegate/metrics"
	"github.com/edgegate/edgegate/net"
	"github.com/edgegate/edgegate/ratelimit"
	"github.com/edgegate/edgegate/resolve"
	"github.com/edgegate/edgegate/security"
	"github.com/edgegate/edgegate/snapshot"
)

// Options to start the gateway. Options with zero value fall back to
// their defaults.
type Options struct {

	// Network address that the gateway should listen on.
	Address string

	// SupportListener is the network address used for exposing the
	// /metrics and /health endpoints. An empty value disables the
	// support endpoint.
	SupportListener string

	// SnapshotURL is the base URL of the configuration snapshot store.
	SnapshotURL string

	// SnapshotTimeout limits a single snapshot store request.
	SnapshotTimeout time.Duration

	// SnapshotCacheSize bounds the number of parsed routing tables kept
	// in memory.
	SnapshotCacheSize int

	// PlanHeader is the request header used to disambiguate plan ties.
	PlanHeader string

	// HtpasswdFile backs basic auth schemes that name no remote
	// registry.
	HtpasswdFile string

	// BasicAuthRealm is announced in basic auth challenges.
	BasicAuthRealm string

	// OAuthSigningKey is the HMAC key validating oauth2 bearer tokens.
	// When empty, oauth2 schemes fail closed.
	OAuthSigningKey string

	// RatelimitRedisAddrs enables the distributed rate limit backend
	// over the given redis shards. When empty, limits are enforced per
	// process.
	RatelimitRedisAddrs []string

	// RatelimitRedisConnInterval defines the frequency of updating the
	// redis connection metrics.
	RatelimitRedisConnInterval time.Duration

	// RatelimitKeyPrefix namespaces the limiter keys in the shared
	// store.
	RatelimitKeyPrefix string

	// RatelimitFailOpen lets requests pass when the rate limit store
	// fails instead of rejecting them.
	RatelimitFailOpen bool

	// Dispatcher executes the assembly of a resolved API. When nil,
	// resolved requests are answered with 501.
	Dispatcher Dispatcher

	// Output for the application log entries, defaults to stderr.
	ApplicationLogOutput io.Writer

	// Prefix for application log entries.
	ApplicationLogPrefix string

	// Application log level as understood by logrus.
	ApplicationLogLevel string

	// When set, application log entries are written as JSON.
	ApplicationLogJSONEnabled bool

	// Output for the access log entries, defaults to stderr.
	AccessLogOutput io.Writer

	// When set, no access log entries are written.
	AccessLogDisabled bool

	// When set, access log entries are written as JSON instead of the
	// combined log format.
	AccessLogJSONEnabled bool
}

// NewGateway assembles the resolution pipeline of the options into the
// http.Handler serving the gateway traffic.
func NewGateway(o Options) (*Gateway, error) {
	store := snapshot.NewClient(snapshot.ClientOptions{
		BaseURL: o.SnapshotURL,
		Timeout: o.SnapshotTimeout,
	})

	handlers := security.NewRegistry()
	handlers.Register(catalog.SchemeAPIKey, security.NewAPIKey())
	handlers.Register(catalog.SchemeBasic, security.NewBasic(security.BasicOptions{
		Realm:        o.BasicAuthRealm,
		HtpasswdFile: o.HtpasswdFile,
	}))
	if o.OAuthSigningKey != "" {
		handlers.Register(catalog.SchemeOAuth2, security.NewOAuth([]byte(o.OAuthSigningKey)))
	}

	var redisClient *net.RedisClient
	if len(o.RatelimitRedisAddrs) > 0 {
		redisClient = net.NewRedisClient(&net.RedisOptions{
			Addrs:               o.RatelimitRedisAddrs,
			ConnMetricsInterval: o.RatelimitRedisConnInterval,
		})
		if !redisClient.Available() {
			redisClient.Close()
			return nil, fmt.Errorf("rate limit redis not reachable: %v", o.RatelimitRedisAddrs)
		}
		redisClient.StartMetricsCollection()
	}

	limits := ratelimit.NewRegistry(ratelimit.Options{
		Redis:     redisClient,
		KeyPrefix: o.RatelimitKeyPrefix,
		FailOpen:  o.RatelimitFailOpen,
	})

	resolver := resolve.New(resolve.Options{
		Cache:      snapshot.NewCache(store, o.SnapshotCacheSize),
		Security:   handlers,
		Limits:     limits,
		PlanHeader: o.PlanHeader,
	})

	dispatcher := o.Dispatcher
	if dispatcher == nil {
		dispatcher = notImplementedDispatcher{}
	}

	return &Gateway{
		resolver:   resolver,
		dispatcher: dispatcher,
		limits:     limits,
	}, nil
}

// Run starts the gateway with the given options and blocks until the
// listener fails.
func Run(o Options) error {
	err := logging.Init(logging.Options{
		ApplicationLogOutput:      o.ApplicationLogOutput,
		ApplicationLogPrefix:      o.ApplicationLogPrefix,
		ApplicationLogLevel:       o.ApplicationLogLevel,
		ApplicationLogJSONEnabled: o.ApplicationLogJSONEnabled,
		AccessLogOutput:           o.AccessLogOutput,
		AccessLogDisabled:         o.AccessLogDisabled,
		AccessLogJSONEnabled:      o.AccessLogJSONEnabled,
	})
	if err != nil {
		return err
	}

	g, err := NewGateway(o)
	if err != nil {
		return err
	}
	defer g.Close()

	if o.SupportListener != "" {
		go listenSupport(o.SupportListener)
	}

	log.Infof("Gateway listening on %s", o.Address)
	return http.ListenAndServe(o.Address, g)
}

func listenSupport(address string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	log.Infof("Support listener on %s", address)
	if err := http.ListenAndServe(address, mux); err != nil {
		log.Errorf("Support listener failed: %v", err)
	}
}
