/*
 * Copyright 2026 The Quince Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quince-team/quince/pkg/crdt"
	"github.com/quince-team/quince/server"
	"github.com/quince-team/quince/server/backend"
	"github.com/quince-team/quince/server/documents"
	"github.com/quince-team/quince/server/profiling/prometheus"
)

var (
	dumpConfPath string
	dumpOutput   string
	dumpPolicy   string
)

// errDocumentNotFound is returned when the document has nothing stored.
var errDocumentNotFound = errors.New("document not found")

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump [store location] [doc id]",
		Short: "Print the content of a stored document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := server.NewConfig()
			if dumpConfPath != "" {
				parsed, err := server.NewConfigFromFile(dumpConfPath)
				if err != nil {
					return err
				}
				conf = parsed
			}

			policy := documents.CorruptUpdatePolicy(dumpPolicy)
			if policy != documents.CorruptUpdateFail && policy != documents.CorruptUpdateSkip {
				return fmt.Errorf("%s: %w", dumpPolicy, backend.ErrInvalidPolicy)
			}

			entries, err := loadEntries(cmd.Context(), conf, args[0], args[1])
			if err != nil {
				return err
			}

			return printEntries(cmd, dumpOutput, entries)
		},
	}
}

// loadEntries reads the document through the engine without writing
// anything back to the store.
func loadEntries(ctx context.Context, conf *server.Config, location, docID string) ([]crdt.Entry, error) {
	st, err := backend.OpenStore(location, conf.Mongo, conf.S3)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = st.Close()
	}()

	metrics, err := prometheus.NewMetrics()
	if err != nil {
		return nil, err
	}

	manager := documents.New(st, documents.Options{
		CorruptUpdatePolicy: documents.CorruptUpdatePolicy(dumpPolicy),
	}, metrics)

	exists, err := manager.Exists(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", docID, errDocumentNotFound)
	}

	handle, err := manager.Load(ctx, docID)
	if err != nil {
		return nil, err
	}
	defer manager.Release(handle)

	return handle.Entries()
}

func printEntries(cmd *cobra.Command, output string, entries []crdt.Entry) error {
	switch output {
	case "":
		tw := table.NewWriter()
		tw.Style().Options.DrawBorder = false
		tw.Style().Options.SeparateColumns = false
		tw.Style().Options.SeparateFooter = false
		tw.Style().Options.SeparateHeader = false
		tw.Style().Options.SeparateRows = false
		tw.AppendHeader(table.Row{
			"KEY",
			"VALUE",
			"UPDATED AT",
		})
		for _, entry := range entries {
			tw.AppendRow(table.Row{
				entry.Key,
				entry.Value,
				entry.UpdatedAt,
			})
		}
		cmd.Printf("%s\n", tw.Render())
	case "json":
		jsonOutput, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		cmd.Println(string(jsonOutput))
	case "yaml":
		yamlOutput, err := yaml.Marshal(entries)
		if err != nil {
			return fmt.Errorf("marshal YAML: %w", err)
		}
		cmd.Println(string(yamlOutput))
	default:
		return fmt.Errorf("unknown output format: %s", output)
	}

	return nil
}

func init() {
	cmd := newDumpCmd()
	cmd.Flags().StringVarP(
		&dumpConfPath,
		"config",
		"c",
		"",
		"Config path, for the Mongo and S3 sections",
	)
	cmd.Flags().StringVarP(
		&dumpOutput,
		"output",
		"o",
		"",
		"One of 'yaml' or 'json'.",
	)
	cmd.Flags().StringVar(
		&dumpPolicy,
		"corrupt-update-policy",
		server.DefaultCorruptUpdatePolicy,
		"What to do with an update in the log that fails to decode: fail or skip",
	)
	rootCmd.AddCommand(cmd)
}
