package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/onkernel/termlab/lib/sessions"
)

const clearScreen = "\033[H\033[2J"

var (
	userColor = color.New(color.FgGreen, color.Bold)
	dirColor  = color.New(color.FgBlue, color.Bold)
)

// colorPrompt paints "user@host:dir$" the way a stock Ubuntu bashrc does.
// Anything that does not look like that is printed as is.
func colorPrompt(p string) string {
	if len(p) < 2 {
		return p + " "
	}
	sigil := p[len(p)-1:]
	who, dir, ok := strings.Cut(p[:len(p)-1], ":")
	if !ok {
		return p + " "
	}
	return userColor.Sprint(who) + ":" + dirColor.Sprint(dir) + sigil + " "
}

// repl reads lines from in until EOF or logout, printing results to out.
func repl(ctx context.Context, in io.Reader, out io.Writer, b backend, greeting sessions.ExecResult) error {
	scanner := bufio.NewScanner(in)
	prompt := greeting.Prompt
	for {
		fmt.Fprint(out, colorPrompt(prompt))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		r, err := b.Exec(ctx, line)
		if err != nil {
			return err
		}
		if r.Clear {
			fmt.Fprint(out, clearScreen)
		}
		if r.Output != "" {
			fmt.Fprintln(out, r.Output)
		}
		if fields := strings.Fields(line); len(fields) > 0 && fields[0] == "exit" && r.Output == "logout" {
			return nil
		}
		prompt = r.Prompt
	}
}
