package cmd

import (
	"errors"
	"os"

	"mcpgate/internal/gwerrors"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands. These are stable and documented so
// supervisors and scripts can branch on the failure class.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
	// ExitCodeConfig indicates an invalid configuration.
	ExitCodeConfig = 2
	// ExitCodeNoBackends indicates no configured backend could be reached.
	ExitCodeNoBackends = 3
)

// rootCmd represents the base command for the mcpgate application.
var rootCmd = &cobra.Command{
	Use:   "mcpgate",
	Short: "Aggregate multiple MCP servers behind one endpoint",
	Long: `mcpgate connects to a set of backend MCP servers (stdio child
processes, SSE, or streamable HTTP), merges their tools, resources, and
prompts into one catalog, and serves that catalog as a single MCP server.

Requests are forwarded to the owning backend with per-backend circuit
breakers, health probing, and optional authentication and authorization.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from main with
// the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcpgate version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps an error to its semantic exit code.
func getExitCode(err error) int {
	var configErr *gwerrors.ConfigError
	if errors.As(err, &configErr) {
		return ExitCodeConfig
	}
	if errors.Is(err, gwerrors.ErrNoBackendsReachable) {
		return ExitCodeNoBackends
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
