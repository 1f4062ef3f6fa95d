package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/trustkit/internal/app"
	"github.com/ericfisherdev/trustkit/internal/application"
)

func (c *cli) fetchCmd() *cobra.Command {
	var (
		method            string
		headers           []string
		data              string
		attempts          int
		retryFailed       bool
		allowAllHostnames bool
		timeout           time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Fetch a URL, answering authentication challenges from the store or a prompt",
		Long: `Fetches URL and writes the response body to standard output. When the
server demands authentication, stored basic-auth credentials are tried first
and then the user is prompted. Accepted credentials are stored for the host.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := application.ConnectOptions{
				Method:                strings.ToUpper(method),
				Header:                http.Header{},
				LoginAttempts:         attempts,
				IgnorePreviousFailure: retryFailed,
				AllowAllHostnames:     allowAllHostnames,
				Timeout:               timeout,
			}
			if data != "" {
				opts.Body = []byte(data)
			}
			for _, h := range headers {
				k, v, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("invalid header %q, expected Name: value", h)
				}
				opts.Header.Add(strings.TrimSpace(k), strings.TrimSpace(v))
			}

			prompter := &terminalPrompter{cli: c}
			return c.withSubsystem(cmd, prompter, func(sub *app.Subsystem) error {
				resp, err := sub.Connector.Connect(cmd.Context(), args[0], opts)
				if err != nil {
					var authErr *application.AuthError
					if errors.As(err, &authErr) && authErr.CredentialsRejected {
						return fmt.Errorf("%s rejected the supplied credentials: %w", authErr.Host, err)
					}
					return err
				}
				defer func() { _ = resp.Body.Close() }()

				if _, err := io.Copy(c.out, resp.Body); err != nil {
					return fmt.Errorf("read response body: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra request header, Name: value (repeatable)")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "maximum credential prompts (default from TRUSTKIT_LOGIN_ATTEMPTS)")
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "retry a host whose credentials were already rejected")
	cmd.Flags().BoolVarP(&allowAllHostnames, "insecure-hostnames", "k", false, "skip TLS hostname verification")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "dial and response-header timeout (default from TRUSTKIT_CONNECT_TIMEOUT)")
	return cmd
}
