/*
Copyright 2023 The Meterproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package commands

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meterproj/meterflow/pkg/config"
	"github.com/meterproj/meterflow/pkg/metrics"
	"github.com/meterproj/meterflow/pkg/pipeline"
	"github.com/meterproj/meterflow/pkg/shared/logging"
	"github.com/meterproj/meterflow/server/routes"
)

func NewStartCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "start",
		Short: "Start the metering reduce engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewLogger().Named("start")
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx = logging.WithLogger(ctx, log)

			conf, err := config.Load()
			if err != nil {
				return err
			}

			stores, err := buildStores(ctx, conf)
			if err != nil {
				return err
			}

			opts := meteringOptions(conf)
			p, err := pipeline.New(ctx, opts, stores,
				pipeline.WithReplayWindow(conf.ReplayWindow),
				pipeline.WithPageSize(conf.PageSize),
				pipeline.WithSinkRetries(conf.SinkRetries))
			if err != nil {
				return err
			}

			if conf.ReplayWindow > 0 {
				stats, err := p.Replay(ctx)
				if err != nil {
					log.Warnw("Startup replay did not complete", zap.Error(err))
				}
				log.Infow("Startup replay finished", "replayed", stats.Replayed, "failed", stats.Failed)
			}

			metrics.StartMetricsServer(ctx, conf.MetricsPort)

			router := gin.New()
			router.Use(gin.Recovery())
			routes.Routes(router, p, opts)

			srv := &http.Server{Addr: fmt.Sprintf(":%d", conf.ServerPort), Handler: router}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Infow("Starting meterflow server", "port", conf.ServerPort)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	return command
}
