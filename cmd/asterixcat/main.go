// Command asterixcat is a one-shot CLI that decodes a single ASTERIX
// capture file (or stdin) against a catalogue and renders the result as
// indented text or JSON. It performs no networking, persistence, or
// queueing — asterixd is the long-running daemon for that.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flightwatch/asterix"
	"github.com/flightwatch/asterix/filter"
	"github.com/flightwatch/asterix/internal/catalogxml"
	"github.com/flightwatch/asterix/render"
	"github.com/flightwatch/asterix/tree"
)

func main() {
	catalogPath := flag.String("catalog", "", "path to the XML category-definition directory (required)")
	format := flag.String("format", "text", "output format: text or json")
	dropCategories := flag.String("drop-categories", "", "comma-separated list of ASTERIX category numbers to drop from the output")
	flag.Parse()

	if err := run(*catalogPath, *format, *dropCategories, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "asterixcat: %v\n", err)
		os.Exit(1)
	}
}

func run(catalogPath, format, dropCategories string, args []string) error {
	if catalogPath == "" {
		return fmt.Errorf("-catalog is required")
	}

	cat, err := catalogxml.LoadDir(catalogPath)
	if err != nil {
		return fmt.Errorf("load catalogue: %w", err)
	}

	buf, err := readInput(args)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	f, err := buildFilter(dropCategories)
	if err != nil {
		return fmt.Errorf("parse -drop-categories: %w", err)
	}

	root := asterix.Decode(cat, buf, asterix.WithTimestamp(time.Now()))
	root = pruneBlocks(f, root)

	switch format {
	case "text":
		return render.Text(os.Stdout, root)
	case "json":
		return render.JSON(os.Stdout, root)
	default:
		return fmt.Errorf("unknown -format %q (want text or json)", format)
	}
}

// readInput returns the contents of args[0] if present, or stdin otherwise.
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}

// buildFilter parses a comma-separated list of category numbers to drop and
// returns a *filter.Filter with each one explicitly set to filter.Drop.
func buildFilter(dropCategories string) (*filter.Filter, error) {
	f := filter.New()
	if dropCategories == "" {
		return f, nil
	}
	for _, s := range strings.Split(dropCategories, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		catID, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid category %q: %w", s, err)
		}
		f.SetCategory(catID, filter.Drop)
	}
	return f, nil
}

// pruneBlocks drops whole blocks whose category is set to filter.Drop and
// runs filter.Prune, scoped to each block's own category, over the rest.
// filter.Prune itself has no notion of "which category is this Group in" —
// that context only exists one level up, at the block boundary — so
// category-level dropping and item/field-level pruning are applied in two
// separate passes here.
func pruneBlocks(f *filter.Filter, root *tree.Group) *tree.Group {
	out := tree.NewGroup(root.Label, root.ByteOffset)
	out.SetLength(root.ByteLength)

	for _, child := range root.Children {
		block, ok := child.(*tree.Group)
		if !ok {
			out.Add(child)
			continue
		}

		var catID int
		fmt.Sscanf(block.Label, "CAT%03d", &catID)
		if !f.KeepCategory(catID) {
			continue
		}

		out.Add(filter.Prune(f, block, catID, noItemOf))
	}
	return out
}

// noItemOf reports "no item" for every Group. Decoded record and item
// groups carry no item-name label (see internal/decode), so field-level
// filtering by PID is the only item-granularity filter.Prune can apply here
// — category-level filtering is handled separately in pruneBlocks above.
func noItemOf(*tree.Group) (string, bool) { return "", false }
