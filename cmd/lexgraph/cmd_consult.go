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
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLex/pkg/ux"
	"github.com/AleutianAI/AleutianLex/services/investigation"
	"github.com/AleutianAI/AleutianLex/services/investigation/session"
)

func runConsult(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	engine, err := current.newEngine(ctx)
	if err != nil {
		return err
	}

	var sessions *session.Store
	if consultPersist || consultSession != "" {
		if sessions, err = current.sessionStore(); err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
	}

	var st *investigation.State
	if consultSession != "" {
		if st, err = sessions.Get(ctx, consultSession); err != nil {
			return fmt.Errorf("load session %s: %w", consultSession, err)
		}
	} else {
		st = engine.NewSession(session.NewID())
		if sessions != nil {
			if err := sessions.Create(ctx, st); err != nil {
				return err
			}
		}
	}

	var save saveFunc
	if sessions != nil {
		save = sessions.Put
	}
	p := ux.NewPrinter(cmd.OutOrStdout())
	final, err := consult(ctx, engine, st, cmd.InOrStdin(), p, save)
	if sessions != nil && final != nil {
		p.Muted("세션 ID: " + final.ID)
	}
	return err
}

type saveFunc func(ctx context.Context, st *investigation.State) error

// consult runs turns read line by line from in until the conversation
// completes, the user types exit, or input ends.
func consult(ctx context.Context, engine *investigation.Engine, st *investigation.State, in io.Reader, p *ux.Printer, save saveFunc) (*investigation.State, error) {
	p.Title("lexgraph 법률 상담")
	switch {
	case st.Phase == investigation.PhaseComplete:
		p.Box("상담 결과", st.Report)
		return st, nil
	case len(st.History) > 0:
		p.Box("", st.History[len(st.History)-1].Content)
	default:
		p.Muted("상담하실 내용을 입력해 주세요. 종료하려면 exit를 입력하세요.")
	}

	scanner := bufio.NewScanner(in)
	for st.Phase != investigation.PhaseComplete {
		if err := ctx.Err(); err != nil {
			return st, nil
		}
		p.Prompt("> ")
		if !scanner.Scan() {
			return st, scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit", "종료":
			return st, nil
		}

		next, reply, err := engine.Turn(ctx, st, line)
		if err != nil {
			if errors.Is(err, investigation.ErrEmptyInput) {
				continue
			}
			return st, err
		}
		st = next
		if save != nil {
			if err := save(ctx, st); err != nil {
				return st, fmt.Errorf("save session: %w", err)
			}
		}
		printReply(p, st, reply)
	}
	return st, nil
}

func printReply(p *ux.Printer, st *investigation.State, reply investigation.Reply) {
	switch {
	case reply.Retry:
		p.Warning(reply.Message)
		return
	case reply.Report != "":
		p.Box("상담 결과", reply.Report)
		return
	}
	p.Box(reply.Issue, reply.Message)
	if reply.Phase != investigation.PhaseInvestigation {
		return
	}
	for _, is := range st.DetectedIssues {
		if pct, ok := reply.Progress[is.Key]; ok {
			p.Muted(fmt.Sprintf("%s %s", is.Name, p.ProgressBar(pct, 20)))
		}
	}
}
