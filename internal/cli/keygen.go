package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/triage-ai/intervene/internal/store"
)

var keygenFormat string

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keygenFormat, "format", "f", "text", "Output format (text|json)")
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an API key with its lookup prefix and bcrypt hash",
	Long: "Prints a fresh tsk_ API key. Use the key as auth.static_key for local\n" +
		"development, or store the prefix and hash when provisioning a project by hand.",
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

type keygenOutput struct {
	APIKey string `json:"api_key"`
	Prefix string `json:"api_key_prefix"`
	Hash   string `json:"api_key_hash"`
}

func runKeygen(cmd *cobra.Command, args []string) error {
	key, err := store.GenerateAPIKey()
	if err != nil {
		return err
	}
	out := keygenOutput{APIKey: key.Plaintext, Prefix: key.Prefix, Hash: key.Hash}

	w := cmd.OutOrStdout()
	if keygenFormat == "json" {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal key: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}
	fmt.Fprintf(w, "api_key:        %s\n", out.APIKey)
	fmt.Fprintf(w, "api_key_prefix: %s\n", out.Prefix)
	fmt.Fprintf(w, "api_key_hash:   %s\n", out.Hash)
	return nil
}
