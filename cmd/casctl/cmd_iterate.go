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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianCAS/services/cas/annotators"
	"github.com/AleutianAI/AleutianCAS/services/cas/constraint"
	"github.com/AleutianAI/AleutianCAS/services/cas/fs"
	"github.com/AleutianAI/AleutianCAS/services/cas/index"
	"github.com/AleutianAI/AleutianCAS/services/cas/runner"
	"github.com/AleutianAI/AleutianCAS/services/cas/store"
	"github.com/AleutianAI/AleutianCAS/services/cas/subiter"
)

// iterate flags
var (
	iterType      string
	iterWithin    string
	iterBegin     int
	iterEnd       int
	iterAmbiguous bool
	iterStrict    bool
	iterWhere     []string
	iterOutput    string
)

// errRangeFlags is returned when only one of --begin and --end is given.
var errRangeFlags = errors.New("--begin and --end must be given together")

// iterateQuery is the parsed form of the iterate flags.
type iterateQuery struct {
	typeName string
	within   string
	begin    int
	end      int
	policy   subiter.Policy
	filter   *constraint.Constraint
}

// annotationRow is one printed annotation.
type annotationRow struct {
	Document string            `json:"document" yaml:"document"`
	Bound    string            `json:"bound,omitempty" yaml:"bound,omitempty"`
	ID       fs.ID             `json:"id" yaml:"id"`
	Type     string            `json:"type" yaml:"type"`
	Begin    int               `json:"begin" yaml:"begin"`
	End      int               `json:"end" yaml:"end"`
	Text     string            `json:"text" yaml:"text"`
	Features map[string]string `json:"features,omitempty" yaml:"features,omitempty"`
}

func runIterate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	q, err := parseIterateFlags()
	if err != nil {
		return err
	}
	schema, err := casConfig.Build()
	if err != nil {
		return err
	}
	docs, err := readDocuments(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	opts := append(runner.FromConfig(casConfig.Runner), runner.WithLogger(logger))
	r, err := runner.New(schema, annotators.Default(), opts...)
	if err != nil {
		return err
	}
	results, err := r.Run(ctx, docs)
	if err != nil {
		return err
	}

	var rows []annotationRow
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			logger.Error("document failed",
				slog.String("document", res.DocumentID),
				slog.String("error", res.Err.Error()),
			)
			continue
		}
		docRows, err := q.run(ctx, res.DocumentID, res.Store)
		if err != nil {
			return fmt.Errorf("%s: %w", res.DocumentID, err)
		}
		rows = append(rows, docRows...)
	}

	if err := writeRows(cmd.OutOrStdout(), iterOutput, rows); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(results))
	}
	return nil
}

// parseIterateFlags validates the iterate flags.
func parseIterateFlags() (iterateQuery, error) {
	q := iterateQuery{
		typeName: iterType,
		within:   iterWithin,
		begin:    iterBegin,
		end:      iterEnd,
		policy:   subiter.Policy{Ambiguous: iterAmbiguous, Strict: iterStrict},
	}
	if (q.begin < 0) != (q.end < 0) {
		return q, errRangeFlags
	}
	if q.within != "" && q.begin >= 0 {
		return q, errors.New("--within cannot be combined with --begin/--end")
	}
	if !slices.Contains([]string{"text", "json", "yaml"}, iterOutput) {
		return q, fmt.Errorf("invalid --output %q", iterOutput)
	}

	var parts []*constraint.Constraint
	for _, w := range iterWhere {
		c, err := parseWhere(w)
		if err != nil {
			return q, err
		}
		parts = append(parts, c)
	}
	switch len(parts) {
	case 0:
	case 1:
		q.filter = parts[0]
	default:
		q.filter = constraint.And(parts...)
	}
	return q, nil
}

// run selects the query's annotations from one document store.
func (q iterateQuery) run(ctx context.Context, doc string, st *store.Store) ([]annotationRow, error) {
	switch {
	case q.within != "":
		bounds, err := st.AnnotationIndex(q.within)
		if err != nil {
			return nil, err
		}
		var rows []annotationRow
		for _, b := range bounds.Records() {
			sub, err := st.Subiterator(ctx, b, q.typeName, q.policy)
			if err != nil {
				return nil, err
			}
			rows = append(rows, q.rows(doc, st, b, sub)...)
		}
		return rows, nil

	case q.begin >= 0:
		sub, err := st.SubiteratorRange(ctx, q.typeName, q.begin, q.end, q.policy)
		if err != nil {
			return nil, err
		}
		return q.rows(doc, st, nil, sub), nil

	case !q.policy.Ambiguous:
		sub, err := st.Unambiguous(ctx, q.typeName)
		if err != nil {
			return nil, err
		}
		return q.rows(doc, st, nil, sub), nil

	default:
		ix, err := st.AnnotationIndex(q.typeName)
		if err != nil {
			return nil, err
		}
		return q.rows(doc, st, nil, ix.Iterator()), nil
	}
}

// rows filters it and renders every remaining annotation.
func (q iterateQuery) rows(doc string, st *store.Store, bound *fs.Record, it index.Iterator) []annotationRow {
	if q.filter != nil {
		it = constraint.Filter(it, q.filter)
	}
	var boundText string
	if bound != nil {
		boundText = fmt.Sprintf("%s[%d,%d)", bound.Type().Name(), bound.Begin(), bound.End())
	}
	var out []annotationRow
	for _, r := range index.Collect(it) {
		row := annotationRow{
			Document: doc,
			Bound:    boundText,
			ID:       r.ID(),
			Type:     r.Type().Name(),
			Begin:    r.Begin(),
			End:      r.End(),
			Text:     st.CoveredText(r),
		}
		if names := r.FeatureNames(); len(names) > 0 {
			row.Features = make(map[string]string, len(names))
			for _, n := range names {
				v, _ := r.Feature(n)
				if str, ok := v.AsString(); ok {
					row.Features[n] = str
				} else {
					row.Features[n] = v.String()
				}
			}
		}
		out = append(out, row)
	}
	return out
}

// readDocuments reads each path, with "-" meaning stdin. Document IDs are
// the file base names.
func readDocuments(stdin io.Reader, paths []string) ([]runner.Document, error) {
	docs := make([]runner.Document, 0, len(paths))
	for _, p := range paths {
		if p == "-" {
			data, err := io.ReadAll(bufio.NewReader(stdin))
			if err != nil {
				return nil, fmt.Errorf("read stdin: %w", err)
			}
			docs = append(docs, runner.Document{ID: "stdin", Text: string(data)})
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		docs = append(docs, runner.Document{ID: filepath.Base(p), Text: string(data)})
	}
	return docs, nil
}

// writeRows prints rows as a table, JSON or YAML.
func writeRows(w io.Writer, format string, rows []annotationRow) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if rows == nil {
			rows = []annotationRow{}
		}
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	default:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DOCUMENT\tBOUND\tTYPE\tSPAN\tTEXT")
		for _, r := range rows {
			bound := r.Bound
			if bound == "" {
				bound = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t[%d,%d)\t%q\n", r.Document, bound, r.Type, r.Begin, r.End, r.Text)
		}
		return tw.Flush()
	}
}
