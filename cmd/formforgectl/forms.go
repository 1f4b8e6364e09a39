package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/user/formforge/internal/storage"
)

func init() {
	formsCmd.AddCommand(formsListCmd)
	formsCmd.AddCommand(formsSummaryCmd)
	rootCmd.AddCommand(formsCmd)
}

var formsCmd = &cobra.Command{
	Use:   "forms",
	Short: "Inspect forms on the server",
}

var formsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List forms visible to the token",
	Run: func(cmd *cobra.Command, args []string) {
		var out struct {
			Items []storage.Form `json:"items"`
			Total int            `json:"total"`
		}
		if err := apiRequest(http.MethodGet, "/api/forms", nil, &out); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Printf("%-36s  %-10s  %-8s  %s\n", "ID", "STATUS", "PUBLIC", "TITLE")
		for _, f := range out.Items {
			fmt.Printf("%-36s  %-10s  %-8t  %s\n", f.ID, f.Status, f.IsPublic, f.Title)
		}
		fmt.Printf("\n%d forms\n", out.Total)
	},
}

var formsSummaryCmd = &cobra.Command{
	Use:   "summary <form-id>",
	Short: "Show response analytics for a form",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var out storage.ResponseSummary
		if err := apiRequest(http.MethodGet, "/api/forms/"+args[0]+"/analytics/summary", nil, &out); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Printf("Total:   %d\n", out.Total)
		fmt.Printf("Drafts:  %d\n", out.Drafts)
		for status, count := range out.ByStatus {
			fmt.Printf("  %-10s %d\n", status, count)
		}
		if out.LastSubmittedAt != nil {
			fmt.Printf("Last submission: %s\n", out.LastSubmittedAt)
		}
	},
}
