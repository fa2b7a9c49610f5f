package speedtest

import (
	"net"
	"net/http"
	"time"
)

const (
	DefaultTransferTimeout = 15 * time.Second
	DefaultProbeTimeout    = 5 * time.Second
	DefaultLocationTimeout = 10 * time.Second
	DefaultUploadSize      = 30 * MiB

	DefaultLocationURL  = "http://ip-api.com/json/"
	DefaultDownloadPath = "/speedtest/random4000x4000.jpg"
	DefaultUploadPath   = "/speedtest/upload.php"
	DefaultUserAgent    = "Mozilla/5.0"
)

// UserConfig tunes the client. Zero values fall back to the defaults above.
type UserConfig struct {
	TransferTimeout time.Duration
	ProbeTimeout    time.Duration
	LocationTimeout time.Duration
	UploadSize      int64

	DownloadPath string
	UploadPath   string
	LocationURL  string
	UserAgent    string

	// ProbeConcurrency > 1 probes the candidates of a tier in parallel.
	ProbeConcurrency int
	// RateLimit caps transfers in bytes per second, 0 means unlimited.
	RateLimit float64

	Debug bool
}

// Speedtest is a speedtest client.
type Speedtest struct {
	doer     *http.Client
	config   *UserConfig
	prober   Prober
	resolver Resolver
	geoip    *GeoIPResolver
}

// Option is a function that can be passed to New to modify the Client.
type Option func(*Speedtest)

// WithDoer sets the http.Client used to make requests.
func WithDoer(doer *http.Client) Option {
	return func(s *Speedtest) {
		s.doer = doer
	}
}

// WithUserConfig merges the non-zero fields of cfg into the client configuration.
func WithUserConfig(cfg *UserConfig) Option {
	return func(s *Speedtest) {
		if cfg == nil {
			return
		}
		if cfg.TransferTimeout > 0 {
			s.config.TransferTimeout = cfg.TransferTimeout
		}
		if cfg.ProbeTimeout > 0 {
			s.config.ProbeTimeout = cfg.ProbeTimeout
		}
		if cfg.LocationTimeout > 0 {
			s.config.LocationTimeout = cfg.LocationTimeout
		}
		if cfg.UploadSize > 0 {
			s.config.UploadSize = cfg.UploadSize
		}
		if cfg.DownloadPath != "" {
			s.config.DownloadPath = cfg.DownloadPath
		}
		if cfg.UploadPath != "" {
			s.config.UploadPath = cfg.UploadPath
		}
		if cfg.LocationURL != "" {
			s.config.LocationURL = cfg.LocationURL
		}
		if cfg.UserAgent != "" {
			s.config.UserAgent = cfg.UserAgent
		}
		if cfg.ProbeConcurrency > 0 {
			s.config.ProbeConcurrency = cfg.ProbeConcurrency
		}
		if cfg.RateLimit > 0 {
			s.config.RateLimit = cfg.RateLimit
		}
		if cfg.Debug {
			s.config.Debug = true
			dbg.Enable()
		}
	}
}

// WithProber replaces the reachability prober used by server selection.
func WithProber(p Prober) Option {
	return func(s *Speedtest) {
		s.prober = p
	}
}

// WithResolver replaces the location resolver.
func WithResolver(r Resolver) Option {
	return func(s *Speedtest) {
		s.resolver = r
	}
}

// WithGeoIP consults a MaxMind City database for ip before falling back to
// the online location service. Ignored when WithResolver is also given.
func WithGeoIP(dbPath string, ip net.IP) Option {
	return func(s *Speedtest) {
		if dbPath == "" || ip == nil {
			return
		}
		s.geoip = &GeoIPResolver{DBPath: dbPath, IP: ip}
	}
}

// New creates a new speedtest client.
func New(opts ...Option) *Speedtest {
	s := &Speedtest{
		doer: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DisableCompression:  true,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config: &UserConfig{
			TransferTimeout:  DefaultTransferTimeout,
			ProbeTimeout:     DefaultProbeTimeout,
			LocationTimeout:  DefaultLocationTimeout,
			UploadSize:       DefaultUploadSize,
			DownloadPath:     DefaultDownloadPath,
			UploadPath:       DefaultUploadPath,
			LocationURL:      DefaultLocationURL,
			UserAgent:        DefaultUserAgent,
			ProbeConcurrency: 1,
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.prober == nil {
		s.prober = &HTTPProber{Doer: s.doer, Timeout: s.config.ProbeTimeout, UserAgent: s.config.UserAgent}
	}
	if s.resolver == nil {
		online := &HTTPResolver{
			URL:       s.config.LocationURL,
			Doer:      s.doer,
			Timeout:   s.config.LocationTimeout,
			UserAgent: s.config.UserAgent,
		}
		if s.geoip != nil {
			s.resolver = ChainResolver{s.geoip, online}
		} else {
			s.resolver = online
		}
	}

	return s
}

// Config returns a copy of the effective configuration.
func (s *Speedtest) Config() UserConfig {
	return *s.config
}

// CloseIdleConnections releases pooled connections of the underlying client.
func (s *Speedtest) CloseIdleConnections() {
	s.doer.CloseIdleConnections()
}

var defaultClient = New()
