package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/caffeineduck/starbridge/marshal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluate an expression and print the result",
		Long: `Evaluate a single expression against __main__ and print the value it
converts to on the Go side.

Formats:
  repr   runtime-like text (default)
  json   JSON document
  yaml   YAML document`,
		Args: cobra.ExactArgs(1),
		RunE: runEval,
	}
	cmd.Flags().StringP("format", "f", "repr", "Output format: repr, json, yaml")
	cmd.Flags().StringP("file", "F", "", "Run this file before evaluating")
	return cmd
}

func runEval(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	file, _ := cmd.Flags().GetString("file")

	exec, err := buildExecutor(cmd)
	if err != nil {
		return err
	}
	defer exec.Close()

	if file != "" {
		if err := runFile(exec, file); err != nil {
			return err
		}
	}

	v, err := exec.Eval(args[0], "<expr>")
	if err != nil {
		return err
	}
	return writeValue(cmd.OutOrStdout(), display(v), format)
}

func writeValue(w io.Writer, v any, format string) error {
	switch format {
	case "repr":
		if v == nil {
			_, err := fmt.Fprintln(w, "None")
			return err
		}
		if s, ok := v.(string); ok {
			_, err := fmt.Fprintf(w, "%q\n", s)
			return err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q (expected repr, json, or yaml)", format)
}

// display turns a converted value into plain data an encoder can print.
// Handles are shown by their repr and released.
func display(v any) any {
	switch v := v.(type) {
	case *marshal.Handle:
		defer v.Close()
		return v.Repr()
	case marshal.Tuple:
		return displayAll(v)
	case []any:
		return displayAll(v)
	case *marshal.Set:
		return displayAll(v.Items)
	case *marshal.Dict:
		out := make(map[string]any, v.Len())
		for k, x := range v.Map() {
			out[k] = display(x)
		}
		return out
	case *big.Int:
		return json.Number(v.String())
	case complex128:
		return fmt.Sprint(v)
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	}
	return v
}

func displayAll(items []any) []any {
	out := make([]any, len(items))
	for i, x := range items {
		out[i] = display(x)
	}
	return out
}
