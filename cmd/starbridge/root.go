package main

import (
	"fmt"
	"strings"

	"github.com/caffeineduck/starbridge/executor"
	"github.com/caffeineduck/starbridge/hostfunc"
	"github.com/caffeineduck/starbridge/internal/config"
	"github.com/caffeineduck/starbridge/internal/logging"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "starbridge [file]",
		Short: "Embedded Starlark runtime with a Go bridge",
		Long: `starbridge - Run Starlark code inside a Go host and call across the boundary.

Run code from files, inline strings, or stdin. Runtime code reaches host
capabilities through the host module; each one is off until enabled with
a flag or a config file.`,
		Args:         cobra.MaximumNArgs(1),
		RunE:         runRun,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Config file (.toml, .yaml)")
	flags.StringSlice("path", nil, "Module search directory (repeatable)")
	flags.Bool("debug", false, "Enable the runtime debug channel")
	flags.CountP("verbose", "v", "Increase log verbosity (repeatable)")
	flags.Bool("no-cache", false, "Disable wasm compilation cache")
	flags.Bool("kv", false, "Enable key-value store")
	flags.StringSlice("allow-host", nil, "Allow HTTP to host (repeatable)")
	flags.StringSlice("mount", nil, "Mount filesystem virtual:host:mode (repeatable)")
	flags.StringSlice("wasm", nil, "Load wasm module name=path (repeatable)")
	flags.String("memory", "", "Wasm memory limit: 1mb, 16mb, 64mb, 256mb, 1gb")

	addRunFlags(root)
	root.AddCommand(newRunCmd(), newEvalCmd(), newReplCmd(), newServeCmd())
	return root
}

func parseWasm(spec string) (string, string, error) {
	name, path, ok := strings.Cut(spec, "=")
	if !ok || name == "" || path == "" {
		return "", "", fmt.Errorf("invalid wasm spec %q (expected name=path)", spec)
	}
	return name, path, nil
}

// loadConfig reads --config, if any, and layers the command line on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	cfg := &config.Config{}
	if path, _ := flags.GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	paths, _ := flags.GetStringSlice("path")
	cfg.Path = append(cfg.Path, paths...)

	if debug, _ := flags.GetBool("debug"); debug {
		cfg.Debug = true
	}
	if kv, _ := flags.GetBool("kv"); kv && cfg.KV == nil {
		cfg.KV = &config.KV{}
	}

	hosts, _ := flags.GetStringSlice("allow-host")
	cfg.HTTP.AllowedHosts = append(cfg.HTTP.AllowedHosts, hosts...)

	mounts, _ := flags.GetStringSlice("mount")
	for _, spec := range mounts {
		m, err := config.ParseMount(spec)
		if err != nil {
			return nil, err
		}
		cfg.Mounts = append(cfg.Mounts, m)
	}

	wasm, _ := flags.GetStringSlice("wasm")
	for _, spec := range wasm {
		name, path, err := parseWasm(spec)
		if err != nil {
			return nil, err
		}
		if cfg.Wasm == nil {
			cfg.Wasm = make(map[string]string)
		}
		cfg.Wasm[name] = path
	}

	if memory, _ := flags.GetString("memory"); memory != "" {
		cfg.MemoryLimit = memory
	}
	if noCache, _ := flags.GetBool("no-cache"); noCache {
		cfg.Cache.Disk = false
	} else if len(cfg.Wasm) > 0 {
		cfg.Cache.Disk = true
	}
	return cfg, nil
}

func buildExecutor(cmd *cobra.Command) (*executor.Executor, error) {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	logging.Configure(verbosity, "")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, executor.WithStdout(cmd.OutOrStdout()))
	return executor.New(hostfunc.NewRegistry(), opts...)
}
