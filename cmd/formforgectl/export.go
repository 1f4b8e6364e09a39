package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var exportFormat string
var exportOutput string

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "export format: csv, json or archive")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export <form-id>",
	Short: "Download a form's responses",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		switch exportFormat {
		case "csv", "json", "archive":
		default:
			fmt.Printf("Unknown format %q\n", exportFormat)
			return
		}

		url := fmt.Sprintf("%s/api/forms/%s/export/%s", viper.GetString("url"), args[0], exportFormat)
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		if token := viper.GetString("token"); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := apiClient().Do(req)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fmt.Printf("Error: %s\n", resp.Status)
			return
		}

		var out io.Writer = os.Stdout
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				return
			}
			defer f.Close()
			out = f
		}
		if _, err := io.Copy(out, resp.Body); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		if exportOutput != "" {
			fmt.Printf("Wrote %s\n", exportOutput)
		}
	},
}
