// Command snapdebug loads a page, snapshots one element and writes the
// result to a file. It is meant for inspecting what the converter embeds.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/beevik/etree"
	tp "github.com/xlab/treeprint"

	"domshot/internal/chrome"
	"domshot/snapshot"
)

func main() {
	selector := flag.String("selector", "body", "CSS selector of the element to snapshot")
	format := flag.String("format", "svg", "svg, png, jpeg, gif, pixels or fonts")
	out := flag.String("o", "", "output file (default snapshot.<format>)")
	ratio := flag.Float64("ratio", 1, "device pixel ratio")
	width := flag.Int("w", 0, "override width")
	height := flag.Int("h", 0, "override height")
	bg := flag.String("bg", "", "background color")
	quality := flag.Float64("q", 0, "JPEG quality in (0, 1]")
	tree := flag.Bool("tree", false, "print the cloned element tree of the SVG")
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Parse()

	target := "https://example.com/"
	if flag.NArg() > 0 {
		target = flag.Arg(0)
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	logger := log.New(os.Stderr, "", log.Ltime|log.Lmicroseconds)
	logger.Printf("fetch %s", target)
	doc, err := snapshot.LoadDocument(ctx, target, snapshot.LoadOptions{Logger: logger})
	if err != nil {
		logger.Fatal(err)
	}
	el, err := doc.Select(*selector)
	if err != nil {
		logger.Fatal(err)
	}

	opts := snapshot.Options{
		Width:           *width,
		Height:          *height,
		PixelRatio:      *ratio,
		BackgroundColor: *bg,
		Quality:         *quality,
	}
	conv := snapshot.NewConverter(nil)
	conv.Logger = logger
	conv.Debug = true

	var data []byte
	switch *format {
	case "svg":
		svg, err := conv.ToSVG(ctx, el, opts)
		if err != nil {
			logger.Fatal(err)
		}
		text, err := url.PathUnescape(svg[strings.IndexByte(svg, ',')+1:])
		if err != nil {
			logger.Fatal(err)
		}
		if *tree {
			printTree(text)
		}
		data = []byte(text)
	case "fonts":
		css, err := conv.FontEmbedCSS(ctx, el, opts)
		if err != nil {
			logger.Fatal(err)
		}
		data = []byte(css)
	default:
		browser, err := chrome.NewBrowser(logger)
		if err != nil {
			logger.Fatal(err)
		}
		defer browser.Close()
		conv.Decoder = browser
		if *format == "pixels" {
			data, err = conv.ToPixelData(ctx, el, opts)
		} else {
			opts.Type = *format
			var blob *snapshot.Blob
			blob, err = conv.ToBlob(ctx, el, opts)
			if blob != nil {
				data = blob.Data
			}
		}
		if err != nil {
			browser.Close()
			logger.Fatal(err)
		}
	}

	path := *out
	if path == "" {
		path = "snapshot." + *format
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Fatal(err)
	}
	w, h, _ := snapshot.MeasureSize(el, opts)
	fmt.Printf("%s: %d bytes (%dx%d @%.2gx)\n", path, len(data), w, h, *ratio)
}

// printTree prints the elements of an SVG snapshot with their embedded
// references shortened.
func printTree(svgText string) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(svgText); err != nil {
		log.Printf("tree: %v", err)
		return
	}
	p := tp.New()
	if root := doc.Root(); root != nil {
		addElement(p, root)
	}
	fmt.Print(p.String())
}

func addElement(p tp.Tree, el *etree.Element) {
	label := el.Tag
	attrs := make([]string, 0, len(el.Attr))
	for _, a := range el.Attr {
		if a.Space == "xmlns" || a.Key == "xmlns" {
			continue
		}
		attrs = append(attrs, a.FullKey()+"="+shorten(a.Value))
	}
	sort.Strings(attrs)
	if len(attrs) > 0 {
		label += " [" + strings.Join(attrs, " ") + "]"
	}
	children := el.ChildElements()
	if len(children) == 0 {
		p.AddNode(label)
		return
	}
	branch := p.AddBranch(label)
	for _, c := range children {
		addElement(branch, c)
	}
}

func shorten(v string) string {
	if len(v) > 48 {
		return fmt.Sprintf("%s...(%d bytes)", v[:40], len(v))
	}
	return v
}
