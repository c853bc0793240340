package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"ai-things/audio-go/internal/config"
	"ai-things/audio-go/internal/utils"
)

func Run(args []string) int {
	// Support a global --verbose flag anywhere in the argv (before or after the command).
	// This is helpful because the stdlib flag parser stops at the first non-flag argument.
	args, globalVerbose := extractGlobalVerbose(args)
	utils.ConfigureLogging(globalVerbose)

	if len(args) < 2 {
		printUsage()
		return 1
	}
	if args[1] == "-h" || args[1] == "--help" || args[1] == "help" {
		printUsage()
		return 0
	}

	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	utils.Logf("audio: config loaded env=%s hostname=%s", cfg.AppEnv, cfg.Hostname)

	cmd := args[1]
	cmdArgs := args[2:]
	utils.Logf("audio: cmd=%s args=%v", cmd, cmdArgs)

	var runErr error
	switch cmd {
	case "serve":
		runErr = runServe(ctx, cfg, cmdArgs)
	case "migrate":
		runErr = runMigrate(ctx, cfg, cmdArgs)
	case "keys:upload":
		runErr = runKeysUpload(ctx, cfg, cmdArgs)
	case "keys:status":
		runErr = runKeysStatus(ctx, cfg, cmdArgs)
	case "keys:purge":
		runErr = runKeysPurge(ctx, cfg, cmdArgs)
	case "scratch:sweep":
		runErr = runScratchSweep(cfg, cmdArgs)
	case "job:Narrate":
		runErr = runNarrate(ctx, cfg, cmdArgs)
	case "narrate:enqueue":
		runErr = runNarrateEnqueue(cfg, cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		return 1
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		return 1
	}

	return 0
}

func extractGlobalVerbose(args []string) ([]string, bool) {
	if len(args) == 0 {
		return args, false
	}
	verbose := false
	out := make([]string, 0, len(args))
	for _, arg := range args {
		switch {
		case arg == "--verbose" || arg == "-verbose":
			verbose = true
			continue
		case strings.HasPrefix(arg, "--verbose="):
			raw := strings.TrimPrefix(arg, "--verbose=")
			if parsed, err := strconv.ParseBool(raw); err == nil {
				verbose = parsed
			}
			continue
		case strings.HasPrefix(arg, "-verbose="):
			raw := strings.TrimPrefix(arg, "-verbose=")
			if parsed, err := strconv.ParseBool(raw); err == nil {
				verbose = parsed
			}
			continue
		default:
			out = append(out, arg)
		}
	}
	return out, verbose
}

func printUsage() {
	fmt.Println("Usage: audio <command> [args]")
	fmt.Println("Global flags:")
	fmt.Println("  --verbose   Enable diagnostic logging (can appear before or after the command).")
	fmt.Println("Commands:")
	fmt.Println("  serve [--listen=ADDR]")
	fmt.Println("  migrate [up|status] [--dir=DIR] [--dry-run]")
	fmt.Println("  keys:upload <file|->")
	fmt.Println("  keys:status")
	fmt.Println("  keys:purge [--older-than=720h]")
	fmt.Println("  scratch:sweep [--max-age=6h]")
	fmt.Println("  job:Narrate [--queue] [--sleep=N] [--once] | --provider=P --voice=V [--model=M] [--language=L] [--user=U] [--subtitles] <script-file|->")
	fmt.Println("  narrate:enqueue --provider=P --voice=V [--model=M] [--language=L] [--user=U] [--subtitles] [--host=H] <script-file|->")
}
