package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caffeineduck/starbridge/executor"
	"github.com/caffeineduck/starbridge/marshal"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

func newReplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive REPL with persistent state",
		Long: `Start an interactive REPL (Read-Eval-Print Loop) session.

Expressions print their converted value; statements run as a file and
their bindings stay in __main__.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
		RunE: runRepl,
	}
	cmd.Flags().String("history", "", "History file path (default: ~/.starbridge_history)")
	return cmd
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".starbridge_history")
	}

	exec, err := buildExecutor(cmd)
	if err != nil {
		return err
	}
	defer exec.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(os.Stderr, "starbridge %s REPL (type 'exit' to quit, Ctrl+D to exit)\n", exec.Instance().Version)

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if err == io.EOF {
				fmt.Println()
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		if trimmed := strings.TrimSpace(line); trimmed == "exit" || trimmed == "quit" {
			break
		}

		v, err := evalLine(exec, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if v != nil {
			writeValue(cmd.OutOrStdout(), display(v), "repr")
		}
	}
	return nil
}

// evalLine tries input as an expression first and falls back to running it
// as a file when it does not parse as one.
func evalLine(exec *executor.Executor, line string) (any, error) {
	v, err := exec.Eval(strings.TrimSpace(line), "<stdin>")
	var fe *marshal.ForeignError
	if errors.As(err, &fe) && fe.Kind == "SyntaxError" {
		fe.Close()
		return exec.EvalAsFile(line, "<stdin>")
	}
	return v, err
}
