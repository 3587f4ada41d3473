// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/frostbyte73/core"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/urfave/negroni/v3"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/srt-abr/pkg/config"
	"github.com/livekit/srt-abr/pkg/telemetry/prometheus"
	"github.com/livekit/srt-abr/version"
)

type SRTABRServer struct {
	config     *config.Config
	nodeID     string
	manager    *StreamManager
	store      StreamStore
	apiService *APIService
	httpServer *http.Server
	promServer *http.Server
	running    atomic.Bool
	done       core.Fuse
	closed     core.Fuse
}

func NewSRTABRServer(
	conf *config.Config,
	nodeID string,
	manager *StreamManager,
	store StreamStore,
	apiService *APIService,
) (*SRTABRServer, error) {
	s := &SRTABRServer{
		config:     conf,
		nodeID:     nodeID,
		manager:    manager,
		store:      store,
		apiService: apiService,
	}

	middlewares := []negroni.Handler{
		// always first
		negroni.NewRecovery(),
		cors.New(cors.Options{
			AllowOriginFunc: func(origin string) bool {
				return true
			},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"*"},
		}),
		negroni.HandlerFunc(RemoveDoubleSlashes),
	}
	if conf.Development {
		middlewares = append(middlewares, negroni.NewLogger())
	}

	mux := http.NewServeMux()
	apiService.SetupRoutes(mux)
	mux.HandleFunc("/", s.healthCheck)

	s.httpServer = &http.Server{
		Handler: configureMiddlewares(mux, middlewares...),
	}

	if conf.PrometheusPort > 0 {
		promHandler := promhttp.Handler()
		s.promServer = &http.Server{
			Handler: promHandler,
		}
	}

	return s, nil
}

func (s *SRTABRServer) Node() string {
	return s.nodeID
}

func (s *SRTABRServer) HTTPPort() int {
	return int(s.config.Port)
}

func (s *SRTABRServer) IsRunning() bool {
	return s.running.Load()
}

func (s *SRTABRServer) Start() error {
	if s.running.Load() {
		return ErrServerAlreadyRunning
	}

	if rs, ok := s.store.(*RedisStreamStore); ok {
		if err := rs.Start(context.Background()); err != nil {
			return err
		}
	}

	addresses := s.config.ListenAddresses()
	listeners := make([]net.Listener, 0, len(addresses))
	for _, addr := range addresses {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		listeners = append(listeners, ln)
	}

	var promListeners []net.Listener
	if s.promServer != nil {
		for _, addr := range s.config.PrometheusAddresses() {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			promListeners = append(promListeners, ln)
		}
	}

	values := []interface{}{
		"nodeID", s.nodeID,
		"version", version.Version,
		"portHttp", s.config.Port,
		"streams", len(s.config.Streams),
	}
	if s.config.BindAddresses != nil {
		values = append(values, "bindAddresses", s.config.BindAddresses)
	}
	if s.promServer != nil {
		values = append(values, "portPrometheus", s.config.PrometheusPort)
	}
	logger.Infow("starting SRT ABR server", values...)

	for _, ln := range promListeners {
		go s.promServer.Serve(ln)
	}

	httpGroup := &errgroup.Group{}
	for _, ln := range listeners {
		l := ln
		httpGroup.Go(func() error {
			return s.httpServer.Serve(l)
		})
	}
	go func() {
		if err := httpGroup.Wait(); err != http.ErrServerClosed {
			logger.Errorw("could not start server", err)
			s.Stop()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		if err := s.manager.Run(ctx); err != nil {
			logger.Warnw("streams ended with errors", err)
		}
	}()

	go s.nodeStatsWorker(ctx)

	s.running.Store(true)

	select {
	case <-s.done.Watch():
	case <-managerDone:
		logger.Infow("all streams finished")
	}

	logger.Infow("shutting down SRT ABR server")
	s.manager.Stop()
	cancel()
	<-managerDone

	// wait for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = s.httpServer.Shutdown(shutdownCtx)
	if s.promServer != nil {
		_ = s.promServer.Shutdown(shutdownCtx)
	}

	s.running.Store(false)
	s.closed.Break()
	return nil
}

// Stop makes Start shut down, also when called before the server is running.
func (s *SRTABRServer) Stop() {
	s.done.Break()
}

// Closed fires once Start has returned.
func (s *SRTABRServer) Closed() <-chan struct{} {
	return s.closed.Watch()
}

func (s *SRTABRServer) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *SRTABRServer) nodeStatsWorker(ctx context.Context) {
	interval := s.config.NodeStats.UpdateInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := prometheus.GetUpdatedNodeStats()
			if err != nil {
				logger.Debugw("could not update node stats", "error", err)
				continue
			}
			logger.Debugw("node stats",
				"cpuLoad", fmt.Sprintf("%.2f", stats.CPULoad),
				"memoryLoad", fmt.Sprintf("%.2f", stats.MemoryLoad),
				"streams", stats.NumStreams,
			)
		}
	}
}

func configureMiddlewares(handler http.Handler, middlewares ...negroni.Handler) *negroni.Negroni {
	n := negroni.New()
	for _, m := range middlewares {
		n.Use(m)
	}
	n.UseHandler(handler)
	return n
}
