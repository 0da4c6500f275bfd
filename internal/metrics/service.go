package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BitcoinUnlimited/electrscash/internal/logging"
)

// Service serves /metrics for Prometheus scraping, grounded on
// raidoNetwork-RDO_v2/metrics/service.go's promhttp.HandlerFor setup.
type Service struct {
	server *http.Server
}

func New(addr string) *Service {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		MaxRequestsInFlight: 5,
		Timeout:             30 * time.Second,
	}))
	return &Service{server: &http.Server{Addr: addr, Handler: mux}}
}

func (s *Service) Start() {
	go func() {
		logging.L.Info().Str("addr", s.server.Addr).Msg("metrics: listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L.Error().Err(err).Msg("metrics: server failed")
		}
	}()
}

func (s *Service) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
