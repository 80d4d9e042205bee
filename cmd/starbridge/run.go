package main

import (
	"io"
	"os"

	"github.com/caffeineduck/starbridge/executor"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run code as a file",
		Long: `Execute Starlark code. Top-level bindings live in __main__.

Code can be provided via:
  - File argument: starbridge run script.star
  - Inline flag: starbridge run -c 'print(1+1)'
  - Stdin: echo 'print(1+1)' | starbridge run`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRun,
	}
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
}

func runRun(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")

	var source, name string
	switch {
	case code != "":
		source, name = code, "<string>"
	case len(args) > 0:
		exec, err := buildExecutor(cmd)
		if err != nil {
			return err
		}
		defer exec.Close()
		return runFile(exec, args[0])
	default:
		in := cmd.InOrStdin()
		if f, ok := in.(*os.File); ok {
			// No piped input, show help
			if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
				return cmd.Help()
			}
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return cmd.Help()
		}
		source, name = string(data), "<stdin>"
	}

	exec, err := buildExecutor(cmd)
	if err != nil {
		return err
	}
	defer exec.Close()

	_, err = exec.EvalAsFile(source, name)
	return err
}

func runFile(exec *executor.Executor, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = exec.EvalAsFile(string(data), path)
	return err
}
