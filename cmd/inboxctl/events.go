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
	"time"

	"github.com/spf13/cobra"

	"github.com/crmworks/docinbox/internal/models"
)

var (
	eventsOwner string
	eventsJSON  bool
)

var eventsCmd = &cobra.Command{
	Use:   "events <inbox-item-id>",
	Short: "Print the audit trail of an inbox item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		events, err := b.svc.Events(ctx, eventsOwner, args[0])
		if err != nil {
			return fmt.Errorf("load events: %w", err)
		}
		return printEvents(cmd, events, eventsJSON)
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsOwner, "owner", "", "only show the item if it belongs to this owner")
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "output events as JSON")
	rootCmd.AddCommand(eventsCmd)
}

func printEvents(cmd *cobra.Command, events []models.InboundEvent, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal events: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No events recorded.")
		return nil
	}
	for _, ev := range events {
		from := string(ev.FromStatus)
		if from == "" {
			from = "-"
		}
		actor := ev.Actor
		if actor == "" {
			actor = "system"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s %s -> %s  (%s)\n",
			ev.CreatedAt.UTC().Format(time.RFC3339), ev.EventType, from, ev.ToStatus, actor)
	}
	return nil
}
