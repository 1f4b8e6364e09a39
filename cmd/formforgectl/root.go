package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "formforgectl",
	Short: "formforgectl is a CLI for managing a FormForge server",
	Long:  `A terminal tool for checking server health, listing forms, exporting responses, unlocking accounts and linting workflow conditions.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.formforgectl.yaml)")
	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "FormForge API URL")
	rootCmd.PersistentFlags().String("token", "", "FormForge API bearer token")
	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".formforgectl")
	}

	viper.SetEnvPrefix("FORMFORGE")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func apiClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// apiRequest performs an authenticated call and decodes the JSON reply
// into out (skipped when out is nil).
func apiRequest(method, path string, body io.Reader, out any) error {
	url := viper.GetString("url") + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := viper.GetString("token"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := apiClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
