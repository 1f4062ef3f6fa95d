package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/trustkit/internal/app"
	"github.com/ericfisherdev/trustkit/internal/domain/model"
)

func (c *cli) certCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Import, check, list and delete stored certificates",
	}
	cmd.AddCommand(
		c.certImportCmd(),
		c.certCheckCmd(),
		c.certServersCmd(),
		c.certDeleteCmd(),
	)
	return cmd
}

func (c *cli) certImportCmd() *cobra.Command {
	var (
		server       string
		deleteSource bool
	)

	cmd := &cobra.Command{
		Use:   "import TYPE FILE",
		Short: "Import a PKCS#12 container into the certificate store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			certType, ok := model.ParseCertificateType(args[0])
			if !ok {
				return fmt.Errorf("unknown certificate type %q", args[0])
			}

			return c.withSubsystem(cmd, nil, func(sub *app.Subsystem) error {
				data, ok := sub.Certificates.ImportFromFile(cmd.Context(), args[1], server, certType, deleteSource)
				if !ok {
					return fmt.Errorf("import of %s failed", args[1])
				}
				fmt.Fprintf(c.out, "imported %s (%d bytes, sha256 %s)\n", certType, len(data), model.PayloadHash(data))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "", "server slot (default slot when empty)")
	cmd.Flags().BoolVar(&deleteSource, "delete-source", false, "remove FILE after a successful import")
	return cmd
}

func (c *cli) certCheckCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "check TYPE",
		Short: "Check the validity of a stored certificate using its stored passphrase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			certType, ok := model.ParseCertificateType(args[0])
			if !ok {
				return fmt.Errorf("unknown certificate type %q", args[0])
			}

			return c.withSubsystem(cmd, nil, func(sub *app.Subsystem) error {
				ctx := cmd.Context()

				var payload []byte
				if server != "" {
					payload, ok = sub.Certificates.GetForServer(ctx, certType, server)
				} else {
					payload, ok = sub.Certificates.Get(ctx, certType)
				}
				if !ok {
					return fmt.Errorf("no %s certificate stored", certType)
				}

				passType := certType.PassphraseType()
				cred, ok := sub.Secrets.Get(ctx, passType, server)
				if !ok {
					cred, ok = sub.Secrets.GetDefault(ctx, passType)
				}
				if !ok {
					return fmt.Errorf("no %s passphrase stored", passType)
				}

				v := sub.Certificates.CheckValidity(payload, cred.Password)
				switch {
				case v.Valid:
					fmt.Fprintf(c.out, "valid until %s\n", v.NotAfter.UTC().Format(time.RFC3339))
					return nil
				case v.Expired():
					fmt.Fprintf(c.out, "expired at %s\n", v.NotAfter.UTC().Format(time.RFC3339))
				case v.NotYetValid():
					fmt.Fprintf(c.out, "not valid before %s\n", v.NotBefore.UTC().Format(time.RFC3339))
				case v.Unreadable():
					fmt.Fprintln(c.out, "unreadable: wrong passphrase or corrupt container")
				}
				return errors.New(v.Error())
			})
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "", "server slot (default slot when empty)")
	return cmd
}

func (c *cli) certServersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "servers TYPE",
		Short: "List the servers holding a certificate of TYPE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			certType, ok := model.ParseCertificateType(args[0])
			if !ok {
				return fmt.Errorf("unknown certificate type %q", args[0])
			}

			return c.withSubsystem(cmd, nil, func(sub *app.Subsystem) error {
				for _, s := range sub.Certificates.ListServers(cmd.Context(), certType) {
					fmt.Fprintln(c.out, s)
				}
				return nil
			})
		},
	}
}

func (c *cli) certDeleteCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "delete TYPE",
		Short: "Delete a stored certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			certType, ok := model.ParseCertificateType(args[0])
			if !ok {
				return fmt.Errorf("unknown certificate type %q", args[0])
			}

			return c.withSubsystem(cmd, nil, func(sub *app.Subsystem) error {
				if err := sub.Certificates.DeleteForServer(cmd.Context(), certType, server); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "deleted %s certificate\n", certType)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "", "server slot (default slot when empty)")
	return cmd
}
