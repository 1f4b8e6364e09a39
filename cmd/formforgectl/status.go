package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check server liveness and readiness",
	Run: func(cmd *cobra.Command, args []string) {
		client := apiClient()

		live, err := client.Get(viper.GetString("url") + "/livez")
		if err != nil {
			fmt.Printf("Server unreachable: %v\n", err)
			return
		}
		live.Body.Close()
		fmt.Printf("Liveness:  %s\n", live.Status)

		var ready struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		if err := apiRequest(http.MethodGet, "/readyz", nil, &ready); err != nil {
			fmt.Printf("Readiness: %v\n", err)
			return
		}
		fmt.Printf("Readiness: %s\n", ready.Status)
		for component, state := range ready.Checks {
			fmt.Printf("  %-10s %s\n", component, state)
		}
	},
}
