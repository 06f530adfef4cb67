package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/qcs/internal/credentials"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type credentialStatus struct {
	Kind      string `json:"kind" yaml:"kind"`
	Path      string `json:"path" yaml:"path"`
	Present   bool   `json:"present" yaml:"present"`
	Active    bool   `json:"active" yaml:"active"`
	Subject   string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Email     string `json:"email,omitempty" yaml:"email,omitempty"`
	Issuer    string `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Expired   bool   `json:"expired" yaml:"expired"`
	Opaque    bool   `json:"opaque,omitempty" yaml:"opaque,omitempty"`
}

func newAuthCommand(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Inspect stored credentials",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show which credential files are loaded and when their access tokens expire",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := state.open(cmd, credentials.WithoutPresenceCheck())
			if err != nil {
				return err
			}
			statuses := credentialStatuses(client.store, state.runtime.now)
			if client.renderer.Format().Structured() {
				return client.renderer.Value(statuses)
			}
			return writeCredentialStatuses(cmd.OutOrStdout(), statuses, client.config.QCSURL)
		},
	})
	return cmd
}

func credentialStatuses(store *credentials.Store, now func() time.Time) []credentialStatus {
	active, hasActive := store.Active()
	statuses := make([]credentialStatus, 0, 2)
	for _, kind := range []credentials.Kind{credentials.KindUser, credentials.KindMachine} {
		status := credentialStatus{Kind: string(kind), Path: store.Path(kind)}
		token, ok := store.Token(kind)
		status.Present = ok
		status.Active = hasActive && active.Kind == kind
		if ok {
			claims, err := token.Claims()
			if err != nil {
				status.Opaque = true
			} else {
				status.Subject = claims.Subject
				status.Email = claims.Email
				status.Issuer = claims.Issuer
				status.Expired = claims.Expired(now())
				if !claims.ExpiresAt.IsZero() {
					status.ExpiresAt = claims.ExpiresAt.UTC().Format(time.RFC3339)
				}
			}
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func writeCredentialStatuses(out io.Writer, statuses []credentialStatus, qcsURL string) error {
	var builder strings.Builder
	for _, status := range statuses {
		label := status.Kind
		if status.Active {
			label += " (active)"
		}
		fmt.Fprintf(&builder, "%s credential: %s\n", label, status.Path)
		switch {
		case !status.Present:
			builder.WriteString("  not found\n")
			continue
		case status.Opaque:
			builder.WriteString("  access token is not a JWT\n")
			continue
		}
		if status.Subject != "" {
			fmt.Fprintf(&builder, "  subject: %s\n", status.Subject)
		}
		if status.Email != "" {
			fmt.Fprintf(&builder, "  email: %s\n", status.Email)
		}
		if status.ExpiresAt != "" {
			expiresAt, _ := time.Parse(time.RFC3339, status.ExpiresAt)
			verb := "expires"
			if status.Expired {
				verb = "expired"
			}
			fmt.Fprintf(&builder, "  %s %s (%s)\n", verb, humanize.Time(expiresAt), status.ExpiresAt)
		}
	}
	if qcsURL != "" {
		fmt.Fprintf(&builder, "\nVisit %s/auth/token to obtain or update credentials.\n", qcsURL)
	}
	_, err := io.WriteString(out, builder.String())
	return err
}
