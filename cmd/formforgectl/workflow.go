package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/pkg/evaluator"
)

func init() {
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowLintCmd)
	rootCmd.AddCommand(workflowCmd)
}

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Inspect and lint workflows",
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows on the server",
	Run: func(cmd *cobra.Command, args []string) {
		var out struct {
			Items []storage.FormWorkflow `json:"items"`
			Total int                    `json:"total"`
		}
		if err := apiRequest(http.MethodGet, "/api/workflows", nil, &out); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Printf("%-36s  %-8s  %-20s  %s\n", "ID", "ACTIVE", "TRIGGER FORM", "NAME")
		for _, wf := range out.Items {
			fmt.Printf("%-36s  %-8t  %-20s  %s\n", wf.ID, wf.IsActive, wf.TriggerFormID, wf.Name)
		}
		fmt.Printf("\n%d workflows\n", out.Total)
	},
}

// workflowLintCmd validates a workflow definition file locally without
// touching the server, using the same condition grammar the server
// enforces.
var workflowLintCmd = &cobra.Command{
	Use:   "lint <file.json>",
	Short: "Validate a workflow definition file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		var wf storage.FormWorkflow
		if err := json.Unmarshal(raw, &wf); err != nil {
			fmt.Printf("Invalid JSON: %v\n", err)
			os.Exit(1)
		}

		eval := evaluator.New(nil)
		failures := 0
		if wf.TriggerCondition != "" {
			if err := eval.Validate(wf.TriggerCondition); err != nil {
				fmt.Printf("trigger_condition: %v\n", err)
				failures++
			}
		}
		for i, action := range wf.Actions {
			switch action.Type {
			case storage.ActionRedirectToForm, storage.ActionCreateDraft:
				if action.TargetFormID == "" {
					fmt.Printf("actions[%d]: target_form_id is required\n", i)
					failures++
				}
			case storage.ActionNotifyUser:
				if action.AssignToUserField == "" {
					fmt.Printf("actions[%d]: assign_to_user_field is required\n", i)
					failures++
				}
			default:
				fmt.Printf("actions[%d]: unknown type %q\n", i, action.Type)
				failures++
			}
		}
		if failures > 0 {
			os.Exit(1)
		}
		fmt.Println("OK")
	},
}
