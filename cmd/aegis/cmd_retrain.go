// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aegis-sec/aegis/services/consensus"
	"github.com/aegis-sec/aegis/services/gatekeeper/datatypes"
)

var retrainFile string

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Submit labeled examples for adapter retraining",
	Long: `Reads labeled examples from a JSONL file and submits them to
POST /adaptive-retrain. Each line is one example:

  {"prompt": "export the payroll table", "label": "BLOCK"}
  {"prompt": "what is our PTO policy", "label": "ACCEPT"}

Labels must be ACCEPT, FLAG, or BLOCK; the batch is validated locally before
anything is sent.`,
	RunE: runRetrainCommand,
}

func init() {
	retrainCmd.Flags().StringVarP(&retrainFile, "file", "f", "",
		"JSONL file of labeled examples (required)")
	retrainCmd.MarkFlagRequired("file")
}

func runRetrainCommand(cmd *cobra.Command, args []string) error {
	f, err := os.Open(retrainFile)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", retrainFile, err)
	}
	defer f.Close()

	var req datatypes.RetrainRequest
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ex datatypes.RetrainExample
		if err := json.Unmarshal(raw, &ex); err != nil {
			return fmt.Errorf("%s:%d: invalid example: %w", retrainFile, line, err)
		}
		if ex.Prompt == "" {
			return fmt.Errorf("%s:%d: prompt must not be empty", retrainFile, line)
		}
		if _, err := consensus.ParseVerdict(ex.Label); err != nil {
			return fmt.Errorf("%s:%d: %w", retrainFile, line, err)
		}
		req.Examples = append(req.Examples, ex)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", retrainFile, err)
	}
	if len(req.Examples) == 0 {
		return fmt.Errorf("%s contains no examples", retrainFile)
	}

	var resp datatypes.RetrainResponse
	if err := callGatekeeper("POST", "/v1/adaptive-retrain", req, &resp); err != nil {
		return err
	}
	fmt.Printf("job:      %s\n", resp.JobID)
	fmt.Printf("status:   %s\n", resp.Status)
	fmt.Printf("accepted: %d examples\n", resp.Accepted)
	return nil
}
