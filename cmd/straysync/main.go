// straysync keeps stray-animal and lost-pet reports in a local SQLite
// database and synchronises them with a remote document store and photo
// store. Reports can be filed and edited offline; pending changes are pushed
// on the next write or sync pass.
//
// Usage:
//
//	straysync setup                       # interactive first-run wizard
//	straysync daemon [--config <path>]    # bootstrap, then sync on an interval
//	straysync sync-once [--config ...]    # single push + pull pass then exit
//	straysync pull [--kind ...]           # pull remote reports only
//	straysync report --kind stray ...     # file a new report
//	straysync edit --kind lost --id 3 ... # change an existing report
//	straysync delete --kind lost --id 3   # delete a report everywhere
//	straysync list [--order date] [--watch]
//	straysync signin --anonymous | --id-token <token> | --email ...
//	straysync signout [--delete-account]
//	straysync status
//	straysync version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/njoerd114/straysync/internal/config"
	"github.com/njoerd114/straysync/internal/setup"
	"github.com/njoerd114/straysync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the subcommand named by the first argument.
func run() error {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	args := os.Args[2:]
	switch cmd := os.Args[1]; cmd {
	case "setup":
		return runSetup(ctx, args)
	case "daemon":
		return runSync(ctx, args, true)
	case "sync-once":
		return runSync(ctx, args, false)
	case "pull":
		return runPull(ctx, args)
	case "report":
		return runReport(ctx, args)
	case "edit":
		return runEdit(ctx, args)
	case "delete":
		return runDelete(ctx, args)
	case "list":
		return runList(ctx, args)
	case "signin":
		return runSignIn(ctx, args)
	case "signout":
		return runSignOut(ctx, args)
	case "status":
		return runStatus(ctx, args)
	case "version":
		fmt.Println("straysync", version)
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		return fmt.Errorf("unknown command %q, run 'straysync help' for usage", cmd)
	}
}

// printUsage shows help and suggests setup if no config exists.
func printUsage() {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "straysync: offline-first stray animal and lost pet reports")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  straysync setup                   Interactive first-run wizard")
	fmt.Fprintln(os.Stderr, "  straysync daemon                  Bootstrap, then sync on an interval")
	fmt.Fprintln(os.Stderr, "  straysync sync-once               Single push and pull pass")
	fmt.Fprintln(os.Stderr, "  straysync pull                    Pull remote reports")
	fmt.Fprintln(os.Stderr, "  straysync report --kind ...       File a new report")
	fmt.Fprintln(os.Stderr, "  straysync edit --kind ... --id N  Edit a report")
	fmt.Fprintln(os.Stderr, "  straysync delete --kind ... --id N")
	fmt.Fprintln(os.Stderr, "  straysync list [--watch]          List reports")
	fmt.Fprintln(os.Stderr, "  straysync signin                  Sign in on this device")
	fmt.Fprintln(os.Stderr, "  straysync signout                 Sign out")
	fmt.Fprintln(os.Stderr, "  straysync status                  Show config, database and account state")
	fmt.Fprintln(os.Stderr, "  straysync version                 Print version")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Every command accepts --config <path> and --verbose.")

	if cfgErr != nil {
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "No config file found. Run 'straysync setup' to get started.")
	}
}

// newLogger installs a text handler on stderr that also feeds the OTel log
// provider once telemetry is set up.
func newLogger(level slog.Level) *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(telemetry.NewHandler(h))
	slog.SetDefault(logger)
	return logger
}

// runSetup launches the interactive setup wizard.
func runSetup(ctx context.Context, args []string) error {
	fs, common := newFlagSet("setup")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger := newLogger(common.level(slog.LevelWarn))

	wiz := setup.NewWizard(os.Stdin, os.Stdout, logger, func(ctx context.Context, cfg *config.Config) error {
		return checkRemotes(ctx, cfg, logger)
	})
	_, err := wiz.Run(ctx, common.configPath)
	return err
}
