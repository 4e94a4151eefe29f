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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crmworks/docinbox/internal/classify"
	"github.com/crmworks/docinbox/internal/models"
)

var (
	classifySubject  string
	classifyFileName string
	classifyJSON     bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify [body-file]",
	Short: "Run the classifier on a document without storing anything",
	Long: `Classifies a document from its file name, e-mail subject and body text.
The body is read from the given file, or from stdin when the file is "-" or omitted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringVarP(&classifySubject, "subject", "s", "", "e-mail subject")
	classifyCmd.Flags().StringVarP(&classifyFileName, "filename", "f", "", "attachment file name (defaults to the body file name)")
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "output signals as JSON")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	var body []byte
	var err error
	fileName := classifyFileName

	if len(args) == 0 || args[0] == "-" {
		body, err = io.ReadAll(cmd.InOrStdin())
	} else {
		body, err = os.ReadFile(args[0])
		if fileName == "" {
			fileName = filepath.Base(args[0])
		}
	}
	if err != nil {
		return fmt.Errorf("read document body: %w", err)
	}

	signals := classify.Classify(classify.Input{
		FileName: fileName,
		Subject:  classifySubject,
		BodyText: string(body),
	})

	if classifyJSON {
		data, err := json.MarshalIndent(signals, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal signals: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	printSignals(cmd, signals)
	return nil
}

func printSignals(cmd *cobra.Command, s models.DocumentSignals) {
	fmt.Fprintf(cmd.OutOrStdout(), "Kind:       %s\n", s.Kind)
	fmt.Fprintf(cmd.OutOrStdout(), "Confidence: %.2f\n", s.Confidence)

	fields := []struct{ label, value string }{
		{"Orders", strings.Join(s.OrderNumbers, ", ")},
		{"Projects", strings.Join(s.ProjectOrderNumbers, ", ")},
		{"AB number", s.ABNumber},
		{"Delivery", s.ConfirmedDeliveryDate},
		{"Note number", s.DeliveryNoteNumber},
		{"Delivered", s.DeliveryDate},
		{"Invoice", s.InvoiceNumber},
		{"Invoiced", s.InvoiceDate},
		{"Due", s.DueDate},
	}
	if s.NetAmount != nil {
		fields = append(fields, struct{ label, value string }{"Net", s.NetAmount.StringFixed(2)})
	}
	if s.TaxRate != nil {
		fields = append(fields, struct{ label, value string }{"Tax rate", s.TaxRate.String() + "%"})
	}
	for _, f := range fields {
		if f.value != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s%s\n", f.label+":", f.value)
		}
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(cmd.OutOrStdout(), "Warning:    %s\n", w)
	}
}
