package cli

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/hatch/internal/cliutil"
	"github.com/Paintersrp/hatch/internal/logmux"
	"github.com/Paintersrp/hatch/internal/manifest"
	"github.com/Paintersrp/hatch/internal/metrics"
	"github.com/Paintersrp/hatch/internal/supervise"
)

func newUpCmd(ctx *context) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Supervise every job in the manifest until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := manifest.Load(*ctx.manifestFile)
			if err != nil {
				return err
			}

			var metricsSrv *http.Server
			if metricsAddr != "" {
				metricsSrv = serveMetrics(cmd, metricsAddr)
			}

			sup := supervise.New(ctx.bufferSize())
			if err := sup.Up(cmd.Context(), doc); err != nil {
				return fmt.Errorf("start jobs: %w", err)
			}

			streamEvents(cmd, ctx.bufferSize(), sup.Events())

			if metricsSrv != nil {
				shutdownMetrics(metricsSrv)
			}
			return sup.Wait()
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to expose prometheus metrics on (disabled when empty)")

	return cmd
}

// streamEvents encodes lifecycle events directly and routes log events through
// the mux so slow consumers surface drop accounting instead of stalling jobs.
func streamEvents(cmd *cobra.Command, buffer int, events <-chan supervise.Event) {
	mux := logmux.New(buffer)
	logInput := make(chan supervise.Event, buffer)
	mux.Add(logInput)
	logOutput := mux.Output()
	logClosed := false

	enc := json.NewEncoder(cmd.OutOrStdout())

	for events != nil || logOutput != nil {
		select {
		case evt, ok := <-events:
			if !ok {
				events = nil
				if !logClosed {
					close(logInput)
					mux.Close()
					logClosed = true
				}
				continue
			}
			if evt.Type == supervise.EventTypeLog {
				logInput <- evt
				continue
			}
			cliutil.EncodeLogEvent(enc, cmd.ErrOrStderr(), evt)
		case evt, ok := <-logOutput:
			if !ok {
				logOutput = nil
				continue
			}
			cliutil.EncodeLogEvent(enc, cmd.ErrOrStderr(), evt)
		}
	}
	if !logClosed {
		close(logInput)
		mux.Close()
	}
}

func serveMetrics(cmd *cobra.Command, addr string) *http.Server {
	handler := http.NewServeMux()
	handler.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(cmd.ErrOrStderr(), "metrics server: %v\n", err)
		}
	}()
	return srv
}

func shutdownMetrics(srv *http.Server) {
	shutdownCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
