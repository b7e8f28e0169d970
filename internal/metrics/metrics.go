package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gauges
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moshi_client_active_sessions",
		Help: "Number of open chat connections",
	})
	PlaybackBufferedSamples = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moshi_client_playback_buffered_samples",
		Help: "Decoded samples waiting for the speaker",
	})
)

// Counters
var (
	FramesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moshi_client_opus_frames_sent_total",
		Help: "Total Opus frames encoded and sent",
	})
	SamplesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moshi_client_samples_sent_total",
		Help: "Total microphone samples handed to the encoder",
	})
	SamplesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moshi_client_samples_received_total",
		Help: "Total samples decoded from the service",
	})
	MessagesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moshi_client_messages_received_total",
		Help: "Total protocol messages received by kind",
	}, []string{"kind"})
	DecodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moshi_client_opus_decode_errors_total",
		Help: "Total inbound streams aborted by a decode failure",
	})
	DroppedAudioBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moshi_client_dropped_audio_bytes_total",
		Help: "Inbound audio bytes dropped after the decoder stopped",
	})
	TranscriptChunksDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moshi_client_transcript_chunks_dropped_total",
		Help: "Text chunks not forwarded to a slow transcript backend",
	})
)

// Serve exposes the default registry on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Failed to shut down metrics server", "error", err)
		}
	}()

	slog.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
