// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aegis-sec/aegis/services/consensus"
	"github.com/aegis-sec/aegis/services/gatekeeper/datatypes"
)

var (
	checkEmployeeID string
	checkSessionID  string
	checkJSONOutput bool
)

var checkCmd = &cobra.Command{
	Use:   "check [query text]",
	Short: "Run one query through the gatekeeper's consensus check",
	Long: `Submits a query to POST /check-query and prints the merged verdicts.

Examples:
  aegis check "summarize the Q3 roadmap"
  aegis check --employee emp-7 "my ssn is 123-45-6789"
  aegis check --json "hello" | jq .final_flag

Exits non-zero when the final verdict is not ACCEPT, so the command can gate
scripts.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheckCommand,
}

func init() {
	checkCmd.Flags().StringVarP(&checkEmployeeID, "employee", "e", "cli-user",
		"Employee id recorded in the audit trail")
	checkCmd.Flags().StringVar(&checkSessionID, "session", "",
		"Session id recorded in the audit trail")
	checkCmd.Flags().BoolVar(&checkJSONOutput, "json", false,
		"Output the raw response as JSON")
}

func runCheckCommand(cmd *cobra.Command, args []string) error {
	req := datatypes.QueryRequest{
		EmployeeID: checkEmployeeID,
		SessionID:  checkSessionID,
		Query:      strings.Join(args, " "),
	}
	var resp datatypes.QueryResponse
	if err := callGatekeeper("POST", "/v1/check-query", req, &resp); err != nil {
		return err
	}

	if checkJSONOutput {
		if err := printJSON(resp); err != nil {
			return err
		}
	} else {
		fmt.Printf("final:     %s\n", resp.FinalFlag)
		fmt.Printf("pii:       %s\n", resp.PIIStatus)
		fmt.Printf("legacy:    %s\n", resp.MaliciousFlag)
		fmt.Printf("adaptive:  %s", resp.SLMFlag)
		if resp.AdapterVersion != "" {
			fmt.Printf(" (%s)", resp.AdapterVersion)
		}
		fmt.Println()
		if len(resp.Entities) > 0 {
			fmt.Printf("entities:  %s\n", strings.Join(resp.Entities, ", "))
		}
		if resp.RecordID != "" {
			fmt.Printf("record:    %s\n", resp.RecordID)
		}
	}

	if resp.FinalFlag != consensus.VerdictAccept {
		os.Exit(1)
	}
	return nil
}
