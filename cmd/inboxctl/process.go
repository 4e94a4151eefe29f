// Copyright (c) 2026 John Earle
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

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crmworks/docinbox/internal/batch"
)

var (
	processLimit  int
	processNoLock bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Classify one batch of received and failed items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		var lock batch.Locker
		if !processNoLock {
			lock = batch.NewRedisLock(b.rdb, b.cfg.Batch.LockTTL)
		}
		proc := batch.NewProcessor(b.svc, b.store, lock, b.cfg.Batch.DefaultLimit, b.cfg.Batch.MaxLimit)

		res, err := proc.Run(ctx, processLimit)
		if err != nil {
			return fmt.Errorf("run batch: %w", err)
		}
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	processCmd.Flags().IntVarP(&processLimit, "limit", "n", 0, "batch size (default from config)")
	processCmd.Flags().BoolVar(&processNoLock, "no-lock", false, "skip the Redis batch lock")
	rootCmd.AddCommand(processCmd)
}
