package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kernel/boardcol/pkg/board"
	"github.com/kernel/boardcol/pkg/dispatch"
	"github.com/kernel/boardcol/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// CommandHandler runs dispatch commands.
type CommandHandler interface {
	Handle(ctx context.Context, req dispatch.Request) dispatch.Response
}

// TestAPICmd checks that the Board API accepts the stored credentials.
type TestAPICmd struct {
	handler CommandHandler
	out     io.Writer
}

type TestAPIInput struct {
	Output  string
	Verbose bool
}

func (t TestAPICmd) Run(ctx context.Context, in TestAPIInput) error {
	if in.Output != "" && in.Output != "json" {
		return fmt.Errorf("unsupported --output value: use 'json'")
	}

	resp := t.handler.Handle(ctx, dispatch.Request{Action: dispatch.ActionTestAPI})
	if !resp.Success {
		pterm.Error.Println("Could not reach the Board API")
		return errors.New(resp.Error)
	}
	res, ok := resp.Data.(dispatch.TestAPIResult)
	if !ok {
		return fmt.Errorf("unexpected test result %T", resp.Data)
	}

	if in.Output == "json" {
		return util.WritePrettyJSON(t.out, res)
	}

	printTestAPI(res, in.Verbose)
	if !res.Clients.OK || !res.Projects.OK {
		return errors.New("the Board API rejected the request")
	}
	return nil
}

var (
	okColor   = pterm.NewRGB(31, 163, 130)
	failColor = pterm.NewRGB(239, 68, 68)
	unsetRGB  = pterm.NewRGB(128, 128, 128)
)

func coloredDot(rgb pterm.RGB) string {
	return rgb.Sprint("●")
}

func presence(set bool) string {
	if set {
		return coloredDot(okColor) + " set"
	}
	return coloredDot(unsetRGB) + " missing"
}

func printTestAPI(res dispatch.TestAPIResult, verbose bool) {
	pterm.Println()
	pterm.Println("  " + pterm.Bold.Sprint("Credentials"))
	pterm.Printf("    %-10s %s\n", "API key", presence(res.Credentials.HasAPIKey))
	pterm.Printf("    %-10s %s\n", "API token", presence(res.Credentials.HasAPIToken))

	pterm.Println()
	pterm.Println("  " + pterm.Bold.Sprint("Endpoints"))
	for _, p := range []board.ProbeResult{res.Clients, res.Projects} {
		rgb, label := okColor, "OK"
		if !p.OK {
			rgb, label = failColor, "Failed"
		}
		pterm.Printf("    %s %-10s %s (%d)\n", coloredDot(rgb), p.Endpoint, label, p.Status)
		if verbose || !p.OK {
			pterm.Println(indent(util.OrDash(probeBody(p)), "        "))
		}
	}
	pterm.Println()
}

func probeBody(p board.ProbeResult) string {
	if s, ok := p.Body.(string); ok {
		return s
	}
	b, err := json.MarshalIndent(p.Body, "", "  ")
	if err != nil {
		return fmt.Sprint(p.Body)
	}
	return string(b)
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// --- Cobra wiring ---

var testAPICmd = &cobra.Command{
	Use:   "test-api",
	Short: "Check the Board API with the stored credentials",
	Long:  "Send one unpaginated request to the clients and projects endpoints and report what the API returns",
	Args:  cobra.NoArgs,
	RunE:  runTestAPI,
}

func init() {
	testAPICmd.Flags().StringP("output", "o", "", "Output format (json)")
	testAPICmd.Flags().BoolP("verbose", "v", false, "Print response bodies")
}

func runTestAPI(cmd *cobra.Command, args []string) error {
	d, err := getDeps(cmd)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	verbose, _ := cmd.Flags().GetBool("verbose")

	t := TestAPICmd{handler: dispatch.New(d.svc, d.client, d.logger), out: os.Stdout}
	return t.Run(cmd.Context(), TestAPIInput{Output: output, Verbose: verbose})
}
