package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kernel/boardcol/pkg/credentials"
	"github.com/kernel/boardcol/pkg/table"
	"github.com/kernel/boardcol/pkg/util"
	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// CredentialManager is the subset of cache.Service that changes credentials.
// Both operations clear the cache.
type CredentialManager interface {
	SetCredentials(ctx context.Context, apiKey, apiToken string) error
	DeleteCredentials(ctx context.Context) error
}

// CredentialsCmd handles Board API credential operations.
type CredentialsCmd struct {
	manager CredentialManager
	store   credentials.Store
	out     io.Writer
}

// SaveCredentialsInput holds input for saving credentials.
type SaveCredentialsInput struct {
	APIKey   string
	APIToken string
}

// Save stores the key and token. They are not checked against the API; use
// test-api for that.
func (c CredentialsCmd) Save(ctx context.Context, in SaveCredentialsInput) error {
	if err := c.manager.SetCredentials(ctx, in.APIKey, in.APIToken); err != nil {
		return err
	}
	pterm.Success.Println("Credentials saved")
	return nil
}

type ShowCredentialsInput struct {
	Output string
}

// Show prints masked credentials.
func (c CredentialsCmd) Show(ctx context.Context, in ShowCredentialsInput) error {
	if in.Output != "" && in.Output != "json" {
		return fmt.Errorf("unsupported --output value: use 'json'")
	}
	creds, err := c.store.Load(ctx)
	if err != nil {
		return err
	}

	if in.Output == "json" {
		return util.WritePrettyJSON(c.out, map[string]any{
			"hasApiKey":   creds.APIKey != "",
			"hasApiToken": creds.APIToken != "",
		})
	}

	if !creds.Valid() {
		pterm.Warning.Println("Credentials are incomplete. Run 'boardcol credentials save'.")
	}
	rows := pterm.TableData{{"Property", "Value"}}
	rows = append(rows, []string{"API key", util.Mask(creds.APIKey)})
	rows = append(rows, []string{"API token", util.Mask(creds.APIToken)})
	table.PrintTableNoPad(rows, true)
	return nil
}

type DeleteCredentialsInput struct {
	SkipConfirm bool
}

// Delete removes stored credentials and the mapping cached under them.
func (c CredentialsCmd) Delete(ctx context.Context, in DeleteCredentialsInput) error {
	if !in.SkipConfirm {
		pterm.DefaultInteractiveConfirm.DefaultText = "Are you sure you want to delete the stored Board credentials?"
		ok, _ := pterm.DefaultInteractiveConfirm.Show()
		if !ok {
			pterm.Info.Println("Deletion cancelled")
			return nil
		}
	}
	if err := c.manager.DeleteCredentials(ctx); err != nil {
		return err
	}
	pterm.Success.Println("Credentials deleted")
	return nil
}

// --- Cobra wiring ---

var credentialsCmd = &cobra.Command{
	Use:     "credentials",
	Aliases: []string{"creds"},
	Short:   "Manage Board API credentials",
	Long:    "Store the Board API key and token in the system keyring",
}

var credentialsSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the API key and token",
	Long: `Save the Board API key and token in the system keyring.

Values not given as flags are prompted for.`,
	Args: cobra.NoArgs,
	RunE: runCredentialsSave,
}

var credentialsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored credentials (masked)",
	Args:  cobra.NoArgs,
	RunE:  runCredentialsShow,
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete stored credentials",
	Args:  cobra.NoArgs,
	RunE:  runCredentialsDelete,
}

func init() {
	credentialsCmd.AddCommand(credentialsSaveCmd)
	credentialsCmd.AddCommand(credentialsShowCmd)
	credentialsCmd.AddCommand(credentialsDeleteCmd)

	credentialsSaveCmd.Flags().String("api-key", "", "Board API key")
	credentialsSaveCmd.Flags().String("api-token", "", "Board API token")

	credentialsShowCmd.Flags().StringP("output", "o", "", "Output format (json)")

	credentialsDeleteCmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")
}

func runCredentialsSave(cmd *cobra.Command, args []string) error {
	d, err := getDeps(cmd)
	if err != nil {
		return err
	}
	apiKey, _ := cmd.Flags().GetString("api-key")
	apiToken, _ := cmd.Flags().GetString("api-token")

	missing := strings.TrimSpace(apiKey) == "" || strings.TrimSpace(apiToken) == ""
	if missing && !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return fmt.Errorf("--api-key and --api-token are required when stdin is not a terminal")
	}

	if strings.TrimSpace(apiKey) == "" {
		if apiKey, err = pterm.DefaultInteractiveTextInput.WithMask("*").Show("API key"); err != nil {
			return err
		}
	}
	if strings.TrimSpace(apiToken) == "" {
		if apiToken, err = pterm.DefaultInteractiveTextInput.WithMask("*").Show("API token"); err != nil {
			return err
		}
	}

	c := CredentialsCmd{manager: d.svc, store: d.creds, out: os.Stdout}
	return c.Save(cmd.Context(), SaveCredentialsInput{
		APIKey:   strings.TrimSpace(apiKey),
		APIToken: strings.TrimSpace(apiToken),
	})
}

func runCredentialsShow(cmd *cobra.Command, args []string) error {
	d, err := getDeps(cmd)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	c := CredentialsCmd{manager: d.svc, store: d.creds, out: os.Stdout}
	return c.Show(cmd.Context(), ShowCredentialsInput{Output: output})
}

func runCredentialsDelete(cmd *cobra.Command, args []string) error {
	d, err := getDeps(cmd)
	if err != nil {
		return err
	}
	skip, _ := cmd.Flags().GetBool("yes")
	c := CredentialsCmd{manager: d.svc, store: d.creds, out: os.Stdout}
	return c.Delete(cmd.Context(), DeleteCredentialsInput{SkipConfirm: skip})
}
