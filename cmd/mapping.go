package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/kernel/boardcol/pkg/cache"
	"github.com/kernel/boardcol/pkg/mapping"
	"github.com/kernel/boardcol/pkg/table"
	"github.com/kernel/boardcol/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// MappingService is the subset of cache.Service the mapping commands use.
type MappingService interface {
	Get(ctx context.Context) (cache.Result, error)
	Refresh(ctx context.Context) (mapping.Mapping, error)
}

// MappingCmd handles mapping operations.
type MappingCmd struct {
	svc MappingService
	out io.Writer
}

type MappingGetInput struct {
	Output string
}

// Get prints the mapping, reading through the cache.
func (m MappingCmd) Get(ctx context.Context, in MappingGetInput) error {
	if in.Output != "" && in.Output != "json" {
		return fmt.Errorf("unsupported --output value: use 'json'")
	}

	res, err := m.svc.Get(ctx)
	if err != nil {
		return err
	}

	if in.Output == "json" {
		return util.WritePrettyJSON(m.out, res.Mapping)
	}

	if res.Stale {
		pterm.Warning.Printf("Refresh failed (%v); showing cached data from %s\n", res.RefreshErr, util.FormatLocal(res.FetchedAt))
	}
	printMapping(res.Mapping)
	pterm.Info.Printf("%d projects (source: %s, fetched %s)\n", res.Mapping.Len(), res.Source, util.FormatLocal(res.FetchedAt))
	return nil
}

// Refresh bypasses the cache and fetches a new mapping.
func (m MappingCmd) Refresh(ctx context.Context) error {
	fresh, err := m.svc.Refresh(ctx)
	if err != nil {
		return err
	}
	pterm.Success.Printf("Fetched %d projects\n", fresh.Len())
	return nil
}

type MappingLookupInput struct {
	ProjectNos []string
}

// Lookup prints the client name for each project number.
func (m MappingCmd) Lookup(ctx context.Context, in MappingLookupInput) error {
	res, err := m.svc.Get(ctx)
	if err != nil {
		return err
	}
	rows := pterm.TableData{{"Project", "Client"}}
	for _, no := range in.ProjectNos {
		rows = append(rows, []string{no, res.Mapping.Lookup(no)})
	}
	table.PrintTableNoPad(rows, true)
	return nil
}

func printMapping(m mapping.Mapping) {
	if m.Empty() {
		pterm.Info.Println("No projects found")
		return
	}
	rows := pterm.TableData{{"Project", "Client"}}
	for _, no := range m.SortedKeys() {
		rows = append(rows, []string{no, m[no]})
	}
	table.PrintTableNoPad(rows, true)
}

// --- Cobra wiring ---

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Show the project to client mapping",
}

var mappingGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the mapping",
	Long:  "Print the project number to client name mapping, fetching it only when the cache is stale",
	Args:  cobra.NoArgs,
	RunE:  runMappingGet,
}

var mappingRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch the mapping from the API now",
	Args:  cobra.NoArgs,
	RunE:  runMappingRefresh,
}

var mappingLookupCmd = &cobra.Command{
	Use:   "lookup <project-no>...",
	Short: "Look up the client for project numbers",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMappingLookup,
}

func init() {
	mappingCmd.AddCommand(mappingGetCmd)
	mappingCmd.AddCommand(mappingRefreshCmd)
	mappingCmd.AddCommand(mappingLookupCmd)

	mappingGetCmd.Flags().StringP("output", "o", "", "Output format (json)")
}

func runMappingGet(cmd *cobra.Command, args []string) error {
	d, err := getDeps(cmd)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")

	m := MappingCmd{svc: d.svc, out: os.Stdout}
	return m.Get(cmd.Context(), MappingGetInput{Output: output})
}

func runMappingRefresh(cmd *cobra.Command, args []string) error {
	d, err := getDeps(cmd)
	if err != nil {
		return err
	}
	m := MappingCmd{svc: d.svc, out: os.Stdout}
	return m.Refresh(cmd.Context())
}

func runMappingLookup(cmd *cobra.Command, args []string) error {
	d, err := getDeps(cmd)
	if err != nil {
		return err
	}
	m := MappingCmd{svc: d.svc, out: os.Stdout}
	return m.Lookup(cmd.Context(), MappingLookupInput{ProjectNos: args})
}
