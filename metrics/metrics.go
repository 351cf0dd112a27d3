// Registers:
//
//	#spreadflow_frames_received_total
//	#spreadflow_decode_errors_total
//	#spreadflow_book_records_total
//	#spreadflow_trade_records_total
//	#spreadflow_feed_state
//	#go_* and process_* system metrics
//
// Exposes them on the configured address under /metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spreadflow_frames_received_total",
		Help: "Number of websocket frames received per feed",
	}, []string{"feed"})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spreadflow_decode_errors_total",
		Help: "Number of frames dropped because they could not be decoded",
	}, []string{"feed"})

	BookRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spreadflow_book_records_total",
		Help: "Number of book metric records appended",
	}, []string{"market"})

	TradeRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spreadflow_trade_records_total",
		Help: "Number of trade records appended",
	}, []string{"market"})

	FeedState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spreadflow_feed_state",
		Help: "Current lifecycle state of each feed",
	}, []string{"feed"})
)

// Serve exposes the default registry on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
