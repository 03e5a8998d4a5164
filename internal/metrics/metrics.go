package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Challenge metrics
	ChallengesRequested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puzzlegate_challenges_requested_total",
			Help: "Total challenges shown to viewers",
		},
		[]string{"destination", "reason"},
	)

	AttemptsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puzzlegate_attempts_finished_total",
			Help: "Total puzzle attempts finished",
		},
		[]string{"result"},
	)

	MoveOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puzzlegate_move_outcomes_total",
			Help: "User moves by outcome",
		},
		[]string{"outcome"},
	)

	AttemptsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "puzzlegate_attempts_active",
			Help: "Number of puzzle attempts in progress",
		},
	)

	// Timer metrics
	GrantedSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "puzzlegate_granted_seconds",
			Help:    "Seconds of access granted per resolved challenge",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 600, 1800, 3600},
		},
		[]string{"destination"},
	)

	TimersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "puzzlegate_timers_active",
			Help: "Number of destinations with a running access timer",
		},
	)

	TimerExpiries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puzzlegate_timer_expiries_total",
			Help: "Total access timers that ran out",
		},
		[]string{"destination"},
	)

	SessionsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puzzlegate_sessions_consumed_total",
			Help: "Total daily sessions counted",
		},
		[]string{"destination"},
	)

	// Storage metrics
	StoreWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puzzlegate_store_write_failures_total",
			Help: "Persistence writes that failed or were dropped",
		},
		[]string{"kind"},
	)

	// Connection metrics
	ViewersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "puzzlegate_viewers_connected",
			Help: "Number of connected viewers",
		},
	)

	MessagesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "puzzlegate_messages_dropped_total",
			Help: "Messages dropped because a viewer was not reading",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		ChallengesRequested,
		AttemptsFinished,
		MoveOutcomes,
		AttemptsActive,
		GrantedSeconds,
		TimersActive,
		TimerExpiries,
		SessionsConsumed,
		StoreWriteFailures,
		ViewersConnected,
		MessagesDropped,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
