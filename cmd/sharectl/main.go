// sharectl is a small operator CLI for the share API.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"roomdrop/internal/client"
)

var (
	serverURL string
	userID    string
)

func main() {
	root := &cobra.Command{
		Use:           "sharectl",
		Short:         "Manage file share links",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", envOr("SHARE_SERVER", "http://localhost:8080"), "share server base URL")
	root.PersistentFlags().StringVar(&userID, "user", envOr("SHARE_USER", "anonymous"), "user id for ownership checks")

	root.AddCommand(
		createCmd(),
		listCmd(),
		infoCmd(),
		revokeCmd(),
		deleteCmd(),
		logsCmd(),
		statsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func api() *client.Client {
	return client.New(serverURL)
}

func createCmd() *cobra.Command {
	var days int
	var withPassword bool

	cmd := &cobra.Command{
		Use:   "create <fileId>",
		Short: "Create a share link for a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			share, err := api().CreateShare(cmd.Context(), args[0], userID, days, withPassword)
			if err != nil {
				return err
			}
			fmt.Printf("Share %s created\n", share.ShareID)
			fmt.Printf("  URL:     %s\n", share.URL)
			fmt.Printf("  Expires: %s\n", share.ExpiresAt.Format("2006-01-02 15:04 MST"))
			if share.Password != "" {
				fmt.Printf("  Password: %s (shown once, not recoverable)\n", share.Password)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "days until expiry (1-30, 0 = server default)")
	cmd.Flags().BoolVar(&withPassword, "password", false, "protect with a generated password")
	return cmd
}

func listCmd() *cobra.Command {
	var status string
	var limit int
	var mine bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List share links",
		RunE: func(cmd *cobra.Command, args []string) error {
			creator := ""
			if mine {
				creator = userID
			}
			shares, total, err := api().ListShares(cmd.Context(), creator, status, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SHARE\tFILE\tOWNER\tSTATUS\tACCESSES\tEXPIRES")
			for _, s := range shares {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					s.ShareID, s.FileID, s.CreatedBy, s.Status, s.AccessCount,
					s.ExpiresAt.Format("2006-01-02 15:04"))
			}
			w.Flush()
			fmt.Printf("%d of %d shares\n", len(shares), total)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "all", "filter: active, expired or all")
	cmd.Flags().IntVar(&limit, "limit", 50, "max shares to list")
	cmd.Flags().BoolVar(&mine, "mine", false, "only shares created by --user")
	return cmd
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <shareId>",
		Short: "Show one share link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := api().GetShare(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Share:     %s (%s)\n", s.ShareID, s.Status)
			fmt.Printf("File:      %s\n", s.FileID)
			fmt.Printf("Owner:     %s\n", s.CreatedBy)
			fmt.Printf("URL:       %s\n", s.URL)
			fmt.Printf("Protected: %t\n", s.HasPassword)
			fmt.Printf("Created:   %s\n", s.CreatedAt.Format("2006-01-02 15:04 MST"))
			fmt.Printf("Expires:   %s\n", s.ExpiresAt.Format("2006-01-02 15:04 MST"))
			fmt.Printf("Accesses:  %d\n", s.AccessCount)
			if s.LastAccessedAt != nil {
				fmt.Printf("Last used: %s\n", s.LastAccessedAt.Format("2006-01-02 15:04 MST"))
			}
			return nil
		},
	}
}

func revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <shareId>",
		Short: "Deactivate a share link (record is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api().RevokeShare(cmd.Context(), args[0], userID); err != nil {
				return err
			}
			fmt.Printf("Share %s revoked\n", args[0])
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <shareId>",
		Short: "Permanently remove a share record and its access log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api().DeleteShare(cmd.Context(), args[0], userID); err != nil {
				return err
			}
			fmt.Printf("Share %s deleted\n", args[0])
			return nil
		},
	}
}

func logsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs <shareId>",
		Short: "Show recent access-log entries for a share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := api().AccessLogs(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tIP\tRESULT\tBYTES")
			for _, e := range entries {
				result := "ok"
				if !e.Success {
					result = e.ErrorCode
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
					e.Timestamp.Format("2006-01-02 15:04:05"), e.IPAddress, result, e.BytesTransferred)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to show")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show server aggregate counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := api().Stats(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, key := range []string{
				"tracked_files", "tracked_bytes", "tracked_human",
				"deleted_files", "deleted_bytes",
				"total_shares", "active_shares", "total_accesses", "active_streams",
			} {
				fmt.Fprintf(w, "%s\t%v\n", key, stats[key])
			}
			return w.Flush()
		},
	}
}
