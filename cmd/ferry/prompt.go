package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"ferry/internal/ingest"
	"ferry/internal/labbcat"
)

// prompter reads answers line by line. An exhausted input answers every
// further question with its default.
type prompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
	eof bool
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) readLine() (string, bool) {
	if p.eof {
		return "", false
	}
	line, err := p.in.ReadString('\n')
	if err != nil {
		p.eof = true
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), true
		}
		return "", false
	}
	return strings.TrimSpace(line), true
}

func (p *prompter) ask(question string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, question)
	answer, ok := p.readLine()
	if !ok {
		fmt.Fprintln(p.out)
	}
	return answer, ok
}

// confirm asks a yes/no question; an empty or missing answer selects def.
func (p *prompter) confirm(question string, def bool) bool {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	answer, ok := p.ask(fmt.Sprintf("%s %s: ", question, hint))
	if !ok || answer == "" {
		return def
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return def
	}
}

// ConfirmParameters implements ingest.Confirmer. Each parameter is shown with
// its current value; an empty answer keeps it and a number picks one of the
// declared possible values.
func (p *prompter) ConfirmParameters(ctx context.Context, entry ingest.Entry, params []labbcat.Parameter) ([]labbcat.Parameter, error) {
	p.mu.Lock()
	fmt.Fprintf(p.out, "\nParameters for %s:\n", dash(entry.TranscriptName()))
	p.mu.Unlock()

	for i := range params {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		param := &params[i]
		label := param.Label
		if label == "" {
			label = param.Name
		}
		if len(param.PossibleValues) > 0 {
			p.mu.Lock()
			for n, value := range param.PossibleValues {
				fmt.Fprintf(p.out, "  %d) %s\n", n+1, value)
			}
			p.mu.Unlock()
		}
		for {
			answer, ok := p.ask(fmt.Sprintf("%s [%s]: ", label, param.Value))
			if !ok {
				return params, nil
			}
			if answer != "" {
				param.Value = pickValue(answer, param.PossibleValues)
			}
			if !param.Required || param.Value != "" {
				break
			}
			p.mu.Lock()
			fmt.Fprintf(p.out, "  %s is required\n", label)
			p.mu.Unlock()
		}
	}
	return params, nil
}

func pickValue(answer string, possible []string) string {
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(possible) {
		return possible[n-1]
	}
	return answer
}
