package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/kernel/boardcol/pkg/cache"
	"github.com/kernel/boardcol/pkg/table"
	"github.com/kernel/boardcol/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// CacheService is the subset of cache.Service the cache commands use.
type CacheService interface {
	Clear(ctx context.Context) error
	Status(ctx context.Context) (cache.Status, error)
}

// CacheCmd handles cache operations.
type CacheCmd struct {
	svc CacheService
	out io.Writer
}

// Clear drops both cache tiers.
func (c CacheCmd) Clear(ctx context.Context) error {
	if err := c.svc.Clear(ctx); err != nil {
		return err
	}
	pterm.Success.Println("Cache cleared")
	return nil
}

type CacheStatusInput struct {
	Output string
}

// Status shows what each tier holds.
func (c CacheCmd) Status(ctx context.Context, in CacheStatusInput) error {
	if in.Output != "" && in.Output != "json" {
		return fmt.Errorf("unsupported --output value: use 'json'")
	}
	st, err := c.svc.Status(ctx)
	if err != nil {
		return err
	}
	if in.Output == "json" {
		return util.WritePrettyJSON(c.out, st)
	}

	rows := pterm.TableData{{"Tier", "Present", "Fresh", "Entries", "Fetched", "Age"}}
	for _, tier := range []struct {
		name string
		st   cache.TierStatus
	}{{"memory", st.Memory}, {"durable", st.Durable}} {
		if !tier.st.Present {
			rows = append(rows, []string{tier.name, "false", "-", "-", "-", "-"})
			continue
		}
		rows = append(rows, []string{
			tier.name,
			"true",
			strconv.FormatBool(tier.st.Fresh),
			strconv.Itoa(tier.st.Entries),
			util.FormatLocal(tier.st.FetchedAt),
			util.FormatAge(tier.st.Age),
		})
	}
	table.PrintTableNoPad(rows, true)
	pterm.Info.Printf("TTL: %s\n", st.TTL)
	return nil
}

// --- Cobra wiring ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the mapping cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the cached mapping",
	Long:  "Clear the in-memory and on-disk mapping so the next read fetches from the API",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache status",
	Args:  cobra.NoArgs,
	RunE:  runCacheStatus,
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatusCmd)

	cacheStatusCmd.Flags().StringP("output", "o", "", "Output format (json)")
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	d, err := getDeps(cmd)
	if err != nil {
		return err
	}
	c := CacheCmd{svc: d.svc, out: os.Stdout}
	return c.Clear(cmd.Context())
}

func runCacheStatus(cmd *cobra.Command, args []string) error {
	d, err := getDeps(cmd)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	c := CacheCmd{svc: d.svc, out: os.Stdout}
	return c.Status(cmd.Context(), CacheStatusInput{Output: output})
}
