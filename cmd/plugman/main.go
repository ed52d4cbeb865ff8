package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/vrsandeep/plugman/internal/core"
)

var (
	profileFlag string
	verboseFlag bool
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "plugman",
		Short: "Manage host plugins from the command line",
		Long: `plugman lists, installs, updates and removes plugins.

Plugins come from the configured registry catalog, a GitHub
repository URL or a direct package.json URL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !verboseFlag {
				log.SetOutput(io.Discard)
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "", "Profile to operate on (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Print log output")

	rootCmd.AddCommand(
		listCmd(),
		checkCmd(),
		installCmd(),
		updateCmd(),
		removeCmd(),
		manifestCmd(),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("Error:"), err)
		stop()
		os.Exit(1)
	}
}

// withApp opens the application, loads the plugins of the selected profile
// and hands both to fn.
func withApp(fn func(ctx context.Context, app *core.App, profile string, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := core.New()
		if err != nil {
			return err
		}
		defer app.Close()

		profile := profileFlag
		if profile == "" {
			profile = app.Config().Plugins.DefaultProfile
		}
		if _, err := app.Plugins().LoadInstalled(cmd.Context(), profile); err != nil {
			return err
		}
		return fn(cmd.Context(), app, profile, args)
	}
}

func heading(format string, args ...any) {
	fmt.Println(headingStyle.Render(fmt.Sprintf(format, args...)))
}

func success(format string, args ...any) {
	fmt.Printf("%s %s\n", successStyle.Render("✓"), fmt.Sprintf(format, args...))
}

func warn(format string, args ...any) {
	fmt.Printf("%s %s\n", warnStyle.Render("!"), fmt.Sprintf(format, args...))
}
