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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meterproj/meterflow/pkg/config"
	"github.com/meterproj/meterflow/pkg/pipeline"
	"github.com/meterproj/meterflow/pkg/shared/logging"
)

func NewReplayCommand() *cobra.Command {
	var window int64

	command := &cobra.Command{
		Use:   "replay",
		Short: "Rescan recent inputs and reprocess the unprocessed ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewLogger().Named("replay")
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx = logging.WithLogger(ctx, log)

			conf, err := config.Load()
			if err != nil {
				return err
			}
			if window > 0 {
				conf.ReplayWindow = window
			}
			if conf.ReplayWindow <= 0 {
				return fmt.Errorf("no replay window configured, set REPLAY or --window")
			}

			stores, err := buildStores(ctx, conf)
			if err != nil {
				return err
			}
			p, err := pipeline.New(ctx, meteringOptions(conf), stores,
				pipeline.WithReplayWindow(conf.ReplayWindow),
				pipeline.WithPageSize(conf.PageSize),
				pipeline.WithSinkRetries(conf.SinkRetries))
			if err != nil {
				return err
			}

			stats, err := p.Replay(ctx)
			if err != nil {
				return err
			}
			log.Infow("Replay finished", "replayed", stats.Replayed, "failed", stats.Failed)
			return nil
		},
	}
	command.Flags().Int64Var(&window, "window", 0, "replay window in milliseconds (overrides REPLAY)")
	return command
}
