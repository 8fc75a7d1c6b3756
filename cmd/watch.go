package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kernel/boardcol/pkg/annotate"
	"github.com/kernel/boardcol/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

// WatchCmd keeps an annotated copy of a page in sync while the page changes
// on disk.
type WatchCmd struct {
	source annotate.MappingSource
	logger *pterm.Logger
}

type WatchInput struct {
	Path     string
	Out      string
	Interval time.Duration
	// Refresh, when non-nil, forces a mapping refetch on each receive.
	Refresh <-chan struct{}
}

func (w WatchCmd) Run(ctx context.Context, in WatchInput) error {
	if in.Interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	if in.Out == "" {
		in.Out = defaultAnnotatedPath(in.Path)
	}
	if filepath.Clean(in.Out) == filepath.Clean(in.Path) {
		return fmt.Errorf("--out must differ from the watched file")
	}

	watcher := annotate.NewWatcher(w.source,
		annotate.WithLogger(w.logger),
		annotate.WithSink(func(doc *html.Node, res annotate.Result) error {
			var buf bytes.Buffer
			if err := annotate.Render(&buf, doc); err != nil {
				return err
			}
			if err := util.WriteFileAtomic(in.Out, buf.Bytes(), 0644); err != nil {
				return err
			}
			pterm.Info.Printf("%s: %s (%d rows, %d removed)\n", in.Out, res.Outcome, res.Rows, res.Removed)
			return nil
		}),
	)

	pterm.Info.Printf("Watching %s, writing %s\n", in.Path, in.Out)

	events := make(chan annotate.Event)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx, events)
	})
	g.Go(func() error {
		defer close(events)
		return pollFile(gctx, in.Path, in.Interval, in.Refresh, events)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// pollFile turns changes of path into watcher events. The first successful
// read is reported as a navigation, later ones as mutations.
func pollFile(ctx context.Context, path string, interval time.Duration, refresh <-chan struct{}, events chan<- annotate.Event) error {
	send := func(ev annotate.Event) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := send(annotate.Visible{}); err != nil {
		return err
	}

	var lastMod time.Time
	var lastSize int64 = -1
	first := true

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fi, err := os.Stat(path)
		switch {
		case err != nil:
			if !os.IsNotExist(err) {
				return err
			}
		case fi.ModTime() != lastMod || fi.Size() != lastSize:
			lastMod, lastSize = fi.ModTime(), fi.Size()
			ev, err := readPageEvent(path, first)
			if err != nil {
				pterm.Warning.Printf("Could not read %s: %v\n", path, err)
				break
			}
			first = false
			if err := send(ev); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-refresh:
			done := make(chan error, 1)
			if err := send(annotate.Refresh{Done: done}); err != nil {
				return err
			}
			select {
			case err := <-done:
				if err != nil {
					pterm.Error.Printf("Refresh failed: %v\n", err)
				} else {
					pterm.Success.Println("Client mapping refreshed")
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ticker.C:
		}
	}
}

func readPageEvent(path string, first bool) (annotate.Event, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := annotate.ParseDocument(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if first {
		return annotate.Navigate{URL: "file://" + filepath.ToSlash(path), Doc: doc}, nil
	}
	var root []*html.Node
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			root = append(root, c)
		}
	}
	return annotate.Mutation{Doc: doc, Added: root}, nil
}

// forwardSignals turns each received signal into a refresh request until
// ctx is done.
func forwardSignals(ctx context.Context, sigs <-chan os.Signal, refresh chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			select {
			case refresh <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func defaultAnnotatedPath(path string) string {
	if path == "-" {
		return "annotated.html"
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".annotated" + ext
}

// --- Cobra wiring ---

var watchCmd = &cobra.Command{
	Use:   "watch <file>",
	Short: "Keep an annotated copy of a page up to date",
	Long: `Poll a saved Board page and rewrite an annotated copy whenever it changes.

Send SIGHUP to clear the cache and refetch the client mapping.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("out", "", "Annotated output file (default <file>.annotated.html)")
	watchCmd.Flags().Duration("interval", time.Second, "How often to check the file for changes")
}

func runWatch(cmd *cobra.Command, args []string) error {
	d, err := getDeps(cmd)
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("out")
	interval, _ := cmd.Flags().GetDuration("interval")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	refresh := make(chan struct{})
	go forwardSignals(ctx, hup, refresh)

	w := WatchCmd{source: d.svc, logger: d.logger}
	return w.Run(ctx, WatchInput{Path: args[0], Out: out, Interval: interval, Refresh: refresh})
}
