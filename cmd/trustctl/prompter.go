package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ericfisherdev/trustkit/internal/domain/model"
	"github.com/ericfisherdev/trustkit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialPrompter = (*terminalPrompter)(nil)

// terminalPrompter asks for Basic-Auth credentials on the CLI streams. An
// empty username declines the prompt.
type terminalPrompter struct {
	cli *cli
}

func (p *terminalPrompter) PromptCredentials(ctx context.Context, target *url.URL, previousStatus int) (*model.BasicAuth, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fmt.Fprintf(p.cli.errOut, "%s requires authentication (%d %s)\n",
		target.Host, previousStatus, http.StatusText(previousStatus))
	fmt.Fprint(p.cli.errOut, "Username (empty to cancel): ")

	username, err := p.cli.readLine()
	if err != nil {
		return nil, fmt.Errorf("failed to read username: %w", err)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil
	}

	password, err := p.cli.readSecret("Password: ")
	if err != nil {
		return nil, err
	}

	return &model.BasicAuth{Username: username, Password: model.Secret(password)}, nil
}
