// Command httpc executes requests from .http/.rest files on the command
// line: parse, resolve variables against the selected environment, send,
// capture, and print the formatted response.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	httpfile "github.com/restfile/go-httpfile"
)

var (
	flagEnv     string
	flagEnvFile string
	flagRaw     bool
	flagTimeout time.Duration
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "httpc",
		Short:         "Execute HTTP requests from .http/.rest files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	send := &cobra.Command{
		Use:   "send <file>",
		Short: "Send every request in a request file",
		Args:  cobra.ExactArgs(1),
		RunE:  runSend,
	}
	send.Flags().StringVar(&flagEnv, "env", "", "environment to activate")
	send.Flags().StringVar(&flagEnvFile, "env-file", "", "environment configuration file (discovered when omitted)")
	send.Flags().BoolVar(&flagRaw, "raw", false, "print raw bodies instead of formatted ones")
	send.Flags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "per-request timeout")
	send.Flags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
	root.AddCommand(send)

	envs := &cobra.Command{
		Use:   "envs",
		Short: "List environments from the discovered configuration",
		Args:  cobra.NoArgs,
		RunE:  runEnvs,
	}
	envs.Flags().StringVar(&flagEnvFile, "env-file", "", "environment configuration file (discovered when omitted)")
	root.AddCommand(envs)

	if err := root.Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newSession() *httpfile.Session {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return httpfile.OpenSession(cwd, httpfile.WithLogger(logger))
}

func runSend(cmd *cobra.Command, args []string) error {
	session := newSession()
	defer func() { _ = session.Close() }()

	if _, diags, err := session.LoadEnvironments(flagEnvFile); err == nil {
		printDiagnostics(diags)
	} else if flagEnvFile != "" || flagEnv != "" {
		return err
	}
	if flagEnv != "" {
		if err := session.SetActiveEnvironment(flagEnv); err != nil {
			return err
		}
	}

	runner := httpfile.NewRunner(session,
		httpfile.WithTransport(&httpfile.HTTPTransport{Timeout: flagTimeout}))
	results, err := runner.ExecuteFile(context.Background(), args[0])
	for _, result := range results {
		printResult(result)
	}
	return err
}

func runEnvs(cmd *cobra.Command, args []string) error {
	session := newSession()
	defer func() { _ = session.Close() }()

	names, diags, err := session.LoadEnvironments(flagEnvFile)
	if err != nil {
		return err
	}
	printDiagnostics(diags)
	active, source := session.ActiveEnvironment()
	for _, name := range names {
		if name == active {
			fmt.Printf("%s (active, %s)\n", color.GreenString(name), source)
			continue
		}
		fmt.Println(name)
	}
	return nil
}

func printResult(result *httpfile.RunResult) {
	title := string(result.Block.Method) + " " + result.Block.RawURL
	if result.Block.Name != "" {
		title = result.Block.Name + ": " + title
	}
	color.New(color.FgCyan, color.Bold).Println(title)

	printDiagnostics(result.Diagnostics)

	if result.Err != nil {
		color.New(color.FgRed).Printf("  %v\n\n", result.Err)
		return
	}
	f := result.Formatted
	if f == nil {
		return
	}
	if flagRaw {
		f = httpfile.ToggleView(f)
	}

	statusColor := color.New(color.FgGreen)
	if !f.StatusVerified {
		statusColor = color.New(color.FgYellow)
	} else if result.Response != nil && result.Response.StatusCode >= 400 {
		statusColor = color.New(color.FgRed)
	}
	statusColor.Println(f.StatusLine)
	fmt.Print(f.HeadersText)
	fmt.Println()

	if f.TooLarge {
		color.New(color.FgYellow).Println("(response too large to format; raw body shown)")
	}
	fmt.Println(f.Body())
	if f.PreviewTruncated {
		color.New(color.FgYellow).Printf("(preview truncated at %d lines)\n", f.PreviewLineCount)
	}
	fmt.Println()
}

func printDiagnostics(diags []httpfile.Diagnostic) {
	for _, d := range diags {
		line := "  " + d.String()
		switch d.Severity {
		case httpfile.SeverityError:
			color.New(color.FgRed).Println(line)
		case httpfile.SeverityWarning:
			color.New(color.FgYellow).Println(line)
		default:
			fmt.Println(line)
		}
	}
}
