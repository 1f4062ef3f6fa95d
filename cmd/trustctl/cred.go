package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/trustkit/internal/app"
	"github.com/ericfisherdev/trustkit/internal/domain/model"
)

func (c *cli) identitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identities",
		Short: "List stored credentials by site and type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withSubsystem(cmd, nil, func(sub *app.Subsystem) error {
				ids := sub.Secrets.ListIdentities(cmd.Context())
				if len(ids) == 0 {
					fmt.Fprintln(c.out, "no stored credentials")
					return nil
				}

				w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TYPE\tSITE")
				for _, id := range ids {
					site := id.Site
					if id.IsDefault() {
						site = "(default)"
					}
					fmt.Fprintf(w, "%s\t%s\n", id.Type, site)
				}
				return w.Flush()
			})
		},
	}
}

func (c *cli) credCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cred",
		Short: "Set or delete stored credentials",
	}
	cmd.AddCommand(c.credSetCmd(), c.credDeleteCmd())
	return cmd
}

func (c *cli) credSetCmd() *cobra.Command {
	var (
		username string
		expires  bool
	)

	cmd := &cobra.Command{
		Use:   "set TYPE [SITE]",
		Short: "Store a credential; without SITE the type-wide default is set",
		Long: `Stores a username and password under TYPE and SITE, replacing any existing
entry. The password is read without echo from the terminal, or as one line
from standard input when it is not a terminal.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			credType, site, err := parseCredentialTarget(args)
			if err != nil {
				return err
			}

			password, err := c.readSecret("Password: ")
			if err != nil {
				return err
			}

			return c.withSubsystem(cmd, nil, func(sub *app.Subsystem) error {
				if err := sub.Secrets.Save(cmd.Context(), credType, site, username, model.Secret(password), expires); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "stored %s credential for %s\n", credType, site)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username to store")
	cmd.Flags().BoolVar(&expires, "expires", false, "expire the credential after 30 days")
	return cmd
}

func (c *cli) credDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete TYPE [SITE]",
		Short: "Delete a credential; without SITE the type-wide default is deleted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			credType, site, err := parseCredentialTarget(args)
			if err != nil {
				return err
			}

			return c.withSubsystem(cmd, nil, func(sub *app.Subsystem) error {
				if err := sub.Secrets.Delete(cmd.Context(), credType, site); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "deleted %s credential for %s\n", credType, site)
				return nil
			})
		},
	}
}

// parseCredentialTarget returns the credential type and site named by args.
// A missing site selects the default entry, whose site is the type name.
func parseCredentialTarget(args []string) (model.CredentialType, string, error) {
	credType, ok := model.ParseCredentialType(args[0])
	if !ok {
		return "", "", fmt.Errorf("unknown credential type %q", args[0])
	}
	site := string(credType)
	if len(args) > 1 && args[1] != "" {
		site = args[1]
	}
	return credType, site, nil
}
