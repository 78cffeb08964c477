// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	internal_session "github.com/interviewx/client/internal/session"
	internal_type "github.com/interviewx/client/internal/type"
	"github.com/interviewx/client/pkg/commons"
)

const consoleHelp = "Commands: /skip /pause /resume /next /prev /end /quit. Any other line is submitted as the answer."

// console drives a runner from line-oriented input. Text lines are answers;
// lines starting with a slash are commands. Answers typed while no question
// is open are held until the next one opens.
type console struct {
	logger commons.Logger
	runner *internal_session.Runner
	in     io.Reader
	out    io.Writer

	outMu   sync.Mutex
	changed chan struct{}
	pending []string
	eof     bool
	ending  string
	shown   string
}

func newConsole(logger commons.Logger, runner *internal_session.Runner, in io.Reader, out io.Writer) *console {
	return &console{
		logger:  logger,
		runner:  runner,
		in:      in,
		out:     out,
		changed: make(chan struct{}, 1),
	}
}

func (c *console) printf(format string, args ...interface{}) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) readLines() <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warnw("input closed", "error", err)
		}
	}()
	return lines
}

// run starts the loaded session and returns once it has ended.
func (c *console) run(ctx context.Context) error {
	unsubChange := c.runner.OnChange(func(internal_type.SessionSnapshot) {
		select {
		case c.changed <- struct{}{}:
		default:
		}
	})
	defer unsubChange()
	unsubError := c.runner.OnError(func(err error) { c.printf("! %v\n", err) })
	defer unsubError()

	if err := c.runner.Start(ctx); err != nil {
		return err
	}
	c.printf("%s\n", consoleHelp)
	lines := c.readLines()

	for {
		snap := c.runner.State()
		if snap.Session.Status.Terminal() {
			return nil
		}
		if c.ending != "" {
			return c.finish(ctx, c.ending)
		}
		index := snap.Session.CurrentIndex
		last := index == len(snap.Questions)-1
		current := snap.Current()
		inProgress := snap.Session.Status == internal_type.SessionInProgress
		c.announce(snap)

		switch {
		case inProgress && current.Status == internal_type.QuestionReady:
			if err := c.runner.BeginAnswering(); err != nil {
				return err
			}
			continue
		case current.Status.Finished() && last:
			return c.finish(ctx, internal_session.ReasonCompleted)
		case inProgress && current.Status == internal_type.QuestionAnswering && len(c.pending) > 0:
			line := c.pending[0]
			c.pending = c.pending[1:]
			c.handle(ctx, snap, line)
			continue
		case c.eof && current.Status.Finished():
			// nothing more will be typed, so skip the auto-advance delay
			if err := c.runner.Next(); err != nil {
				c.logger.Debugf("advance after end of input: %v", err)
			}
			continue
		case c.eof && len(c.pending) == 0 && (current.Status == internal_type.QuestionAnswering || !inProgress):
			return c.finish(ctx, internal_session.ReasonCompleted)
		}

		var input <-chan string
		if !c.eof {
			input = lines
		}
		select {
		case <-ctx.Done():
			return c.finish(context.Background(), internal_session.ReasonCancelled)
		case line, ok := <-input:
			if !ok {
				c.eof = true
				continue
			}
			c.handle(ctx, snap, line)
		case <-c.changed:
		}
	}
}

// announce prints what changed since the last call.
func (c *console) announce(snap internal_type.SessionSnapshot) {
	index := snap.Session.CurrentIndex
	current := snap.Current()
	key := fmt.Sprintf("%d/%s/%s", index, current.Status, snap.Session.Status)
	if key == c.shown {
		return
	}
	c.shown = key
	q := snap.Session.Descriptor.Questions[index]

	if snap.Session.Status == internal_type.SessionPaused {
		c.printf("Paused. Type /resume to continue.\n")
		return
	}
	switch current.Status {
	case internal_type.QuestionAnswering:
		c.printf("\nQuestion %d/%d [%s, %ds left]\n%s\n> ", index+1, len(snap.Questions), q.Kind, current.RemainingSeconds, q.Prompt)
	case internal_type.QuestionEvaluating:
		c.printf("Submitted. Waiting for evaluation...\n")
	case internal_type.QuestionSkipped:
		c.printf("Skipped.\n")
	case internal_type.QuestionCompleted:
		ev := current.Evaluation
		if ev == nil || ev.Unavailable {
			c.printf("Evaluation unavailable.\n")
			return
		}
		verdict := "failed"
		if ev.Passed {
			verdict = "passed"
		}
		c.printf("Score %.1f (%s). %s\n", ev.Score, verdict, ev.Feedback)
	}
}

func (c *console) handle(ctx context.Context, snap internal_type.SessionSnapshot, line string) {
	line = strings.TrimSpace(line)
	var err error
	switch line {
	case "":
		return
	case "/help":
		c.printf("%s\n", consoleHelp)
	case "/skip":
		err = c.runner.Skip(ctx, "skipped by candidate")
	case "/pause":
		err = c.runner.Pause()
	case "/resume":
		err = c.runner.Resume()
	case "/next":
		err = c.runner.Next()
	case "/prev":
		err = c.runner.Previous()
	case "/end":
		c.ending = internal_session.ReasonCompleted
	case "/quit":
		c.ending = internal_session.ReasonCancelled
	default:
		if strings.HasPrefix(line, "/") {
			c.printf("unknown command %s. %s\n", line, consoleHelp)
			return
		}
		current := snap.Current()
		if snap.Session.Status != internal_type.SessionInProgress || current.Status != internal_type.QuestionAnswering {
			c.pending = append(c.pending, line)
			return
		}
		if err = c.runner.UpdateDraft(internal_type.DraftFieldText, line); err == nil {
			err = c.runner.Submit(ctx)
		}
	}
	if err != nil {
		c.printf("! %v\n", err)
	}
}

func (c *console) finish(ctx context.Context, reason string) error {
	summary, err := c.runner.End(ctx, reason)
	if summary != nil {
		c.printf("\nSession %s %s: %d answered, %d skipped, %d unanswered, %ds in total",
			summary.SessionID, summary.Status, summary.Answered, summary.Skipped, summary.Unanswered, summary.TotalTimeSpentSeconds)
		if summary.AverageScore != nil {
			c.printf(", average score %.1f", *summary.AverageScore)
		}
		c.printf(".\n")
	}
	return err
}
