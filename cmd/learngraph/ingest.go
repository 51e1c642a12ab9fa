package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dan-solli/learngraph/pkg/events"
	"github.com/dan-solli/learngraph/pkg/jsonx"
	"github.com/dan-solli/learngraph/pkg/learngraph"
	"github.com/dan-solli/learngraph/pkg/learner"
)

const (
	kindGraph     = "graph"
	kindCognitive = "cognitive"
	kindAttempt   = "attempt"

	maxLineBytes    = 1 << 20
	ingestUserLimit = 8
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.jsonl>",
	Short: "Ingest a JSON Lines event stream",
	Long: `Ingest reads one event per line:

  {"kind":"graph","type":"TOPIC_OPENED","payload":{...}}
  {"kind":"cognitive","user_id":"u1","interaction_type":"ANSWER_SUBMITTED","payload":{...}}
  {"kind":"attempt","userId":"u1","questions":[...]}

Graph and attempt lines are applied in file order. Cognitive lines are
grouped per user; users are ingested concurrently.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, _, err := openEngine(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer e.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()

		sum, err := ingest(ctx, e, f, slog.Default())
		if err != nil {
			return err
		}
		return printJSON(cmd, sum)
	},
}

type ingestSummary struct {
	Graph     int `json:"graph"`
	NoOps     int `json:"noOps"`
	Attempts  int `json:"attempts"`
	Cognitive int `json:"cognitive"`
	Skipped   int `json:"skipped"`
	Rejected  int `json:"rejected"`
	Users     int `json:"users"`
}

type graphLine struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type cognitiveLine struct {
	events.Interaction
	Payload json.RawMessage `json:"payload"`
}

// ingest applies every line read from r. Lines that cannot be parsed are
// logged and counted as rejected.
func ingest(ctx context.Context, e *learngraph.Engine, r io.Reader, logger *slog.Logger) (*ingestSummary, error) {
	sum := &ingestSummary{}
	byUser := make(map[string][]events.Interaction)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var head struct {
			Kind string `json:"kind"`
		}
		if err := jsonx.Unmarshal(line, &head); err != nil {
			logger.Warn("rejected line", "line", lineNo, "error", err)
			sum.Rejected++
			continue
		}

		switch head.Kind {
		case kindGraph:
			var gl graphLine
			if err := jsonx.Unmarshal(line, &gl); err != nil || gl.Type == "" {
				logger.Warn("rejected graph line", "line", lineNo, "error", err)
				sum.Rejected++
				continue
			}
			res, err := e.ProcessEvent(ctx, gl.Type, gl.Payload)
			if err != nil {
				return sum, fmt.Errorf("line %d: %w", lineNo, err)
			}
			sum.Graph++
			if res.NoOp {
				sum.NoOps++
			}

		case kindAttempt:
			var sub learner.QuizSubmission
			if err := jsonx.Unmarshal(line, &sub); err != nil || sub.UserID == "" {
				logger.Warn("rejected attempt line", "line", lineNo, "error", err)
				sum.Rejected++
				continue
			}
			if _, err := e.RecordQuizAttempt(ctx, sub); err != nil {
				return sum, fmt.Errorf("line %d: %w", lineNo, err)
			}
			sum.Attempts++

		case kindCognitive:
			var cl cognitiveLine
			if err := jsonx.Unmarshal(line, &cl); err != nil || cl.UserID == "" {
				logger.Warn("rejected cognitive line", "line", lineNo, "error", err)
				sum.Rejected++
				continue
			}
			in := cl.Interaction
			in.Payload = cl.Payload
			byUser[in.UserID] = append(byUser[in.UserID], in)

		default:
			logger.Warn("rejected line with unknown kind", "line", lineNo, "kind", head.Kind)
			sum.Rejected++
		}
	}
	if err := sc.Err(); err != nil {
		return sum, fmt.Errorf("failed to read input: %w", err)
	}

	users := make([]string, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Strings(users)
	sum.Users = len(users)

	var recorded, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestUserLimit)
	for _, u := range users {
		stream := byUser[u]
		g.Go(func() error {
			for _, in := range stream {
				res, err := e.RecordInteraction(gctx, in)
				if err != nil {
					return fmt.Errorf("user %s: %w", in.UserID, err)
				}
				if res.Skipped {
					skipped.Add(1)
					continue
				}
				recorded.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	sum.Cognitive = int(recorded.Load())
	sum.Skipped = int(skipped.Load())
	return sum, err
}
