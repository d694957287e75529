// Package cli provides the massactionctl command-line console.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sydlexius/massaction/internal/client"
	"github.com/sydlexius/massaction/internal/version"
)

// app carries the global flags and the clients shared by every command.
type app struct {
	bridgeURL     string
	hostURL       string
	sessionToken  string
	appToken      string
	sessionCookie string
	timeout       time.Duration
	logFile       string
	verbose       bool

	out    io.Writer
	errOut io.Writer
	// isTTY reports whether progress can be drawn interactively.
	isTTY func() bool

	logger   *slog.Logger
	closeLog func() error
	client   *client.Client
}

// NewRootCommand builds the command tree. Flag defaults come from the
// MA_* environment variables.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{
		isTTY: func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }, //nolint:gosec // fd fits in int
	})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "massactionctl",
		Short: "Run ITSM massive actions from the terminal",
		Long: `massactionctl lists the massive actions a bridge offers, derives the
parameters an action needs and runs it over large item sets in batches.

Examples:
  massactionctl itemtypes
  massactionctl actions Computer
  massactionctl schema Computer MassiveAction:update --ids 1,2,3
  massactionctl run Computer MassiveAction:update --ids-file ids.txt --set field=states_id --set value=2`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			a.errOut = cmd.ErrOrStderr()
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closeLog != nil {
				if err := a.closeLog(); err != nil {
					fmt.Fprintf(a.errOut, "Warning: failed to close log file: %v\n", err)
				}
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.bridgeURL, "bridge", envOr("MA_BRIDGE_URL", "http://localhost:8080"), "bridge base URL")
	flags.StringVar(&a.hostURL, "host", os.Getenv("MA_HOST_URL"), "ITSM host URL used to fetch action parameter forms")
	flags.StringVar(&a.sessionToken, "session-token", os.Getenv("MA_SESSION_TOKEN"), "host session token")
	flags.StringVar(&a.appToken, "app-token", os.Getenv("MA_APP_TOKEN"), "bridge API client app token")
	flags.StringVar(&a.sessionCookie, "session-cookie", os.Getenv("MA_HOST_SESSION_COOKIE"), "name of the host's session cookie")
	flags.DurationVar(&a.timeout, "timeout", 2*time.Minute, "HTTP timeout per request")
	flags.StringVar(&a.logFile, "log-file", "", "also write JSON logs to this file")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newItemTypesCmd(a),
		newActionsCmd(a),
		newSchemaCmd(a),
		newRunCmd(a),
		newJobsCmd(a),
	)
	return root
}

func (a *app) setup() error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger, a.closeLog = setupLogger(a.errOut, a.logFile, level)

	a.client = client.New(client.Options{
		BridgeURL:     a.bridgeURL,
		HostURL:       a.hostURL,
		SessionToken:  a.sessionToken,
		AppToken:      a.appToken,
		SessionCookie: a.sessionCookie,
	}, a.timeout, a.logger)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
