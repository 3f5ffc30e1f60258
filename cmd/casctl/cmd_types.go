// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCAS/services/cas/config"
	"github.com/AleutianAI/AleutianCAS/services/cas/types"
)

func runTypes(cmd *cobra.Command, args []string) error {
	schema, err := casConfig.Build()
	if err != nil {
		return err
	}
	return printSchema(cmd.OutOrStdout(), schema)
}

// printSchema writes the type tree, the priority order and the indexes.
func printSchema(w io.Writer, schema *config.Schema) error {
	ts := schema.TypeSystem
	fmt.Fprintln(w, "Types:")
	printTypeTree(w, ts, ts.Top(), 1)

	fmt.Fprintln(w, "Priorities:")
	for i, t := range schema.Priorities.Order() {
		fmt.Fprintf(w, "  %d. %s\n", i+1, t.Name())
	}

	fmt.Fprintln(w, "Indexes:")
	for _, def := range schema.Indexes {
		fmt.Fprintf(w, "  %s (%s over %s) %s\n", def.Label, def.Kind, def.Type.Name(), def.Order)
	}
	_, err := fmt.Fprintf(w, "Max records: %d\n", schema.MaxRecords)
	return err
}

func printTypeTree(w io.Writer, ts *types.TypeSystem, t *types.Type, depth int) {
	marker := ""
	if t.IsAnnotation() {
		marker = " [annotation]"
	}
	fmt.Fprintf(w, "%s%s%s\n", strings.Repeat("  ", depth), t.Name(), marker)
	for _, sub := range ts.Types() {
		if sub.Parent() == t {
			printTypeTree(w, ts, sub, depth+1)
		}
	}
}
