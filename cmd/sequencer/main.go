// Command sequencer is the CLI surface of the sequence execution
// engine: "check" validates a sequence description file, "run"
// executes it against a function-source directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	seqrun "github.com/nodeflow/seqrun"
	"github.com/nodeflow/seqrun/internal/logger"
	"github.com/nodeflow/seqrun/internal/record"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "check":
		err = runCheck(os.Args[2:])
	case "run":
		err = runRun(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "sequencer:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  sequencer check <sequence_file>")
	fmt.Fprintln(os.Stderr, "  sequencer run <sequence_file> <function_dir> [--constant NAME TYPE VALUE]... [--no-log] [--log-level LEVEL] [--plugin PATH] [--record-db ADDR/DATABASE]")
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	_, err := seqrun.LoadSequenceFile(fs.Arg(0))
	return err
}

func runRun(args []string) error {
	constants, noLog, logLevel, pluginPath, recordDB, rest, err := parseRunArgs(args)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		usage()
		os.Exit(2)
	}
	sequenceFile, functionDir := rest[0], rest[1]

	seq, err := seqrun.LoadSequenceFile(sequenceFile)
	if err != nil {
		return err
	}

	log := logger.Discard()
	if !noLog {
		log = logger.New(os.Stdout, logLevel)
	}

	if pluginPath == "" {
		pluginPath = functionDir + ".so"
	}

	runner, err := seq.NewRunner(seqrun.Options{
		SourceDir:  functionDir,
		PluginPath: pluginPath,
		Constants:  constants,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	if !noLog {
		fmt.Fprintln(os.Stdout, "run id:", runner.RunID)
	}

	var store *record.Store
	if recordDB != "" {
		store, err = openRecordStore(recordDB)
		if err != nil {
			return fmt.Errorf("--record-db: %w", err)
		}
		defer store.Close()
	}

	startedAt := time.Now()
	runErr := runner.Run(context.Background())
	if store != nil {
		summary := &record.RunSummary{
			RunID:         runner.RunID,
			SequenceName:  seq.Name(),
			StartedAt:     startedAt,
			FinishedAt:    time.Now(),
			Status:        "ok",
			FunctionCount: runner.FunctionCount(),
			FailedTests:   runner.FailedTests(),
		}
		if runErr != nil {
			summary.Status = "failed"
			summary.Error = runErr.Error()
		}
		if recErr := store.Record(context.Background(), summary); recErr != nil {
			return fmt.Errorf("recording run summary: %w", recErr)
		}
	}
	return runErr
}

// openRecordStore connects to the Postgres instance a "--record-db
// addr/database" flag names; user and password come from the
// conventional PGUSER/PGPASSWORD environment variables rather than the
// command line, so they never show up in a process listing.
func openRecordStore(addrAndDB string) (*record.Store, error) {
	addr, database, ok := splitOnce(addrAndDB, '/')
	if !ok {
		return nil, fmt.Errorf("expected ADDR/DATABASE, got %q", addrAndDB)
	}
	return record.Open(context.Background(), record.Config{
		Addr:     addr,
		Database: database,
		User:     os.Getenv("PGUSER"),
		Password: os.Getenv("PGPASSWORD"),
	})
}

func splitOnce(s string, sep byte) (before, after string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// parseRunArgs hand-scans args for the repeated 3-token
// "--constant NAME TYPE VALUE" flag (the stdlib flag package has no
// multi-token flag support) alongside the ordinary boolean/string
// flags, returning the remaining positional arguments.
func parseRunArgs(args []string) (constants map[string]any, noLog bool, logLevel, pluginPath, recordDB string, positional []string, err error) {
	constants = make(map[string]any)
	logLevel = "info"

	fail := func(format string, a ...any) (map[string]any, bool, string, string, string, []string, error) {
		return nil, false, "", "", "", nil, fmt.Errorf(format, a...)
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--constant":
			if i+3 >= len(args) {
				return fail("--constant requires NAME TYPE VALUE")
			}
			name, typ, value := args[i+1], args[i+2], args[i+3]
			parsed, perr := parseConstant(typ, value)
			if perr != nil {
				return fail("--constant %s: %w", name, perr)
			}
			constants[name] = parsed
			i += 3
		case "--no-log":
			noLog = true
		case "--log-level":
			if i+1 >= len(args) {
				return fail("--log-level requires a value")
			}
			logLevel = args[i+1]
			i++
		case "--plugin":
			if i+1 >= len(args) {
				return fail("--plugin requires a value")
			}
			pluginPath = args[i+1]
			i++
		case "--record-db":
			if i+1 >= len(args) {
				return fail("--record-db requires a value")
			}
			recordDB = args[i+1]
			i++
		default:
			positional = append(positional, args[i])
		}
	}
	return constants, noLog, logLevel, pluginPath, recordDB, positional, nil
}

func parseConstant(typ, value string) (any, error) {
	switch typ {
	case "str":
		return value, nil
	case "int":
		return strconv.Atoi(value)
	case "float":
		return strconv.ParseFloat(value, 64)
	case "bool":
		return strconv.ParseBool(value)
	default:
		return nil, fmt.Errorf("unknown constant type %q (want str, int, float, bool)", typ)
	}
}
