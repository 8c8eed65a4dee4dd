// Conclave runs teams of cooperating agents behind a JSON-RPC
// WebSocket endpoint.
//
// Each client connection owns a session in which one of several agents
// (assistant, planner, tester, debugger, executor) is active. Agents
// exchange work through mailboxes, may keep working across several
// turns, and are watched by a monitor that intervenes when they stall
// or loop. Configuration is loaded from a single YAML or TOML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	conclave serve                        Start the RPC server
//	conclave init [dir]                   Write an example config.yaml
//	conclave ask [-agent id] <question>   Ask a single question
//	conclave token <subject>              Issue an RPC bearer token
//	conclave version                      Print version and build information
//	conclave -o json version              Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nugget/conclave/internal/buildinfo"
	"github.com/nugget/conclave/internal/config"
	"github.com/nugget/conclave/internal/defaults"
	"github.com/nugget/conclave/internal/rpc"
)

// main builds the OS-level environment and delegates to [run] so the
// whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand because the
// flag package's global state gets in the way of parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var (
		configPath string
		outputFmt  string
		command    string
		cmdArgs    []string
	)

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "token":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: conclave token <subject>")
		}
		return runToken(stdout, configPath, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Conclave - multi-agent session orchestrator")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: conclave [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                       Start the RPC server")
	fmt.Fprintln(w, "  init [dir]                  Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  ask [-agent id] <question>  Ask a single question")
	fmt.Fprintln(w, "  token <subject>             Issue an RPC bearer token")
	fmt.Fprintln(w, "  version                     Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runInit writes the example configuration into dir. An existing
// config.yaml is never overwritten. The file may hold secrets, so it is
// written owner-only.
func runInit(w io.Writer, dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  - %s exists, left unchanged\n", path)
		return nil
	}
	if err := os.WriteFile(path, defaults.ConfigYAML, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}

// runToken prints a bearer token for subject signed with auth.jwt_secret.
func runToken(w io.Writer, configPath, subject string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	auth := rpc.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if auth == nil {
		return fmt.Errorf("auth.jwt_secret is not set; tokens are not required")
	}
	token, err := auth.Issue(subject)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(w, token)
	return nil
}

func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
