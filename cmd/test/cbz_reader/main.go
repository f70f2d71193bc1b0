// Test program for the comic archive reader
//
// Usage:
//
//	go run ./cmd/test/cbz_reader/main.go <cbz-file>
//
// This program exercises the following functionality:
// - Opening a comic archive (ZIP)
// - Walking the entries in storage order with the forward-only cursor
// - Reading each entry and decoding its image header
// - Showing where each page would land on the default page
package main

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"

	"github.com/yuanying/cbztool/internal/cbz"
	"github.com/yuanying/cbztool/internal/converter"
	"github.com/yuanying/cbztool/internal/pdf"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/test/cbz_reader/main.go <cbz-file>")
		os.Exit(1)
	}

	cbzPath := os.Args[1]

	fmt.Printf("Opening CBZ file: %s\n", cbzPath)
	reader, err := cbz.Open(cbzPath, nil)
	if err != nil {
		log.Fatalf("Failed to open CBZ: %v", err)
	}
	defer reader.Close()

	fmt.Printf("✓ CBZ opened successfully\n")
	fmt.Printf("Total files: %d\n\n", reader.Len())

	page := pdf.DefaultPageSize()
	cursor := reader.Cursor(cbz.AcceptAll)
	n := 0
	for {
		pos := cursor.Advance()
		if pos.State == cbz.Exhausted {
			break
		}
		n++
		data, err := pos.Entry.ReadAll()
		if err != nil {
			log.Fatalf("Failed to read %s: %v", pos.Entry.Name, err)
		}

		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			fmt.Printf("  %3d. %s (%d bytes) ✗ not an image: %v\n", n, pos.Entry.Name, len(data), err)
			continue
		}
		p := converter.Fit(cfg.Width, cfg.Height, page)
		fmt.Printf("  %3d. %s (%d bytes) %s %dx%d rotate=%v -> %.2fx%.2f at x=%.2f\n",
			n, pos.Entry.Name, len(data), format, cfg.Width, cfg.Height, p.Rotate, p.Rect.W, p.Rect.H, p.Rect.X)
	}

	if err := cursor.Err(); err != nil {
		fmt.Printf("\n✗ Iteration stopped early: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\n✓ All entries read!")
}
