package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ericfisherdev/trustkit/internal/app"
	"github.com/ericfisherdev/trustkit/internal/config"
	"github.com/ericfisherdev/trustkit/internal/domain/port/driven"
)

// cli carries the streams and global flags shared by every subcommand.
type cli struct {
	in      io.Reader
	lines   *bufio.Reader
	out     io.Writer
	errOut  io.Writer
	verbose bool
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{
		in:     in,
		lines:  bufio.NewReader(in),
		out:    out,
		errOut: errOut,
	}

	root := &cobra.Command{
		Use:   "trustctl",
		Short: "Manage device credentials, certificates and trust anchors",
		Long: `trustctl manages the encrypted credential and certificate stores of this
device. Store locations and trust behaviour are read from TRUSTKIT_*
environment variables.

Examples:
  # Store the default basic-auth credential
  trustctl cred set HTTP_BASIC_AUTH --username alice

  # Import a CA truststore for one server
  trustctl cert import CA_TRUSTSTORE ./ca.p12 --server tak.example.com

  # Fetch a URL, prompting for credentials when the server asks
  trustctl fetch https://tak.example.com/Marti/api/version`,
		SilenceUsage: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		c.identitiesCmd(),
		c.credCmd(),
		c.certCmd(),
		c.fetchCmd(),
	)
	return root
}

// open loads configuration and opens the subsystem.
func (c *cli) open(ctx context.Context, prompter driven.CredentialPrompter) (*app.Subsystem, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(c.errOut, &slog.HandlerOptions{Level: level}))

	return app.Open(ctx, cfg, prompter, logger)
}

// withSubsystem opens the subsystem for the duration of fn.
func (c *cli) withSubsystem(cmd *cobra.Command, prompter driven.CredentialPrompter, fn func(*app.Subsystem) error) error {
	sub, err := c.open(cmd.Context(), prompter)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()
	return fn(sub)
}

// readLine returns the next input line without its terminator.
func (c *cli) readLine() (string, error) {
	line, err := c.lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readSecret reads a secret without echo when input is a terminal, and as a
// plain line otherwise.
func (c *cli) readSecret(prompt string) (string, error) {
	if f, ok := c.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(c.errOut, prompt)
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.errOut) // newline after hidden input
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return string(secret), nil
	}

	line, err := c.readLine()
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return line, nil
}
