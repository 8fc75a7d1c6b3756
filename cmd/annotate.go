package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kernel/boardcol/pkg/annotate"
	"github.com/kernel/boardcol/pkg/util"
	"github.com/pkg/browser"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// AnnotateCmd injects the client column into a saved page.
type AnnotateCmd struct {
	svc  MappingService
	out  io.Writer
	open func(path string) error
}

type AnnotateInput struct {
	Path string
	Out  string
	Open bool
}

func (a AnnotateCmd) Run(ctx context.Context, in AnnotateInput) error {
	if in.Open && in.Out == "" {
		return fmt.Errorf("--open requires --out")
	}

	raw, err := util.ReadInput(in.Path)
	if err != nil {
		return fmt.Errorf("reading page: %w", err)
	}
	doc, err := annotate.ParseDocument(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parsing page: %w", err)
	}

	res, err := a.svc.Get(ctx)
	if err != nil {
		return err
	}
	if res.Stale {
		pterm.Warning.Printf("Refresh failed (%v); using cached data from %s\n", res.RefreshErr, util.FormatLocal(res.FetchedAt))
	}

	outcome := annotate.Annotate(doc, res.Mapping)
	switch outcome.Outcome {
	case annotate.Injected:
		pterm.Success.Printf("Added %s to %d rows\n", annotate.ColumnTitle, outcome.Rows)
	case annotate.AlreadyAnnotated:
		pterm.Info.Println("Page is already annotated")
	default:
		pterm.Warning.Printf("Page left unchanged: %s\n", outcome.Outcome)
	}

	var buf bytes.Buffer
	if err := annotate.Render(&buf, doc); err != nil {
		return fmt.Errorf("rendering page: %w", err)
	}

	if in.Out == "" {
		_, err := a.out.Write(buf.Bytes())
		return err
	}
	if err := util.WriteFileAtomic(in.Out, buf.Bytes(), 0644); err != nil {
		return err
	}
	pterm.Info.Printf("Wrote %s\n", in.Out)

	if in.Open {
		abs, err := filepath.Abs(in.Out)
		if err != nil {
			return err
		}
		if err := a.open(abs); err != nil {
			pterm.Warning.Printf("Could not open browser: %v\n", err)
		}
	}
	return nil
}

// --- Cobra wiring ---

var annotateCmd = &cobra.Command{
	Use:   "annotate <file|->",
	Short: "Add the client column to a saved report page",
	Long: `Read a saved Board page, add a 顧客名 column after 案件名 in the report
details dialog's cost table, and write the result.

Use - to read from stdin. Output goes to stdout unless --out is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnnotate,
}

func init() {
	annotateCmd.Flags().String("out", "", "Write the annotated page to this file")
	annotateCmd.Flags().Bool("open", false, "Open the annotated page in a browser (requires --out)")
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	d, err := getDeps(cmd)
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("out")
	open, _ := cmd.Flags().GetBool("open")
	if out == "" {
		// The page goes to stdout; keep messages off it.
		pterm.SetDefaultOutput(os.Stderr)
	}

	a := AnnotateCmd{svc: d.svc, out: os.Stdout, open: browser.OpenFile}
	return a.Run(cmd.Context(), AnnotateInput{Path: args[0], Out: out, Open: open})
}
