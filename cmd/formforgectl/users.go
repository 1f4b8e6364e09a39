package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func init() {
	usersCmd.AddCommand(usersUnlockCmd)
	rootCmd.AddCommand(usersCmd)
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts",
}

var usersUnlockCmd = &cobra.Command{
	Use:   "unlock <user-id>",
	Short: "Clear a user's login lockout",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := apiRequest(http.MethodPatch, "/api/users/"+args[0]+"/unlock", nil, nil); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Println("Unlocked.")
	},
}
