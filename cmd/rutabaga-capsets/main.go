// Command rutabaga-capsets builds a Rutabaga and prints the capsets it
// advertises to guests.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gogpu/rutabaga"
	_ "github.com/gogpu/rutabaga/component/all"
)

func main() {
	var (
		component    = flag.String("component", "2d", "default component (2d, virglrenderer, gfxstream, cross-domain)")
		contextTypes = flag.String("context-types", "", "colon-separated capset names, e.g. virgl2:cross-domain")
		width        = flag.Uint("width", 1280, "display width")
		height       = flag.Uint("height", 720, "display height")
		wayland      = flag.String("wayland", "", "wayland socket offered to cross-domain contexts")
		strict       = flag.Bool("strict", false, "reject capsets no active component owns")
		dump         = flag.Bool("dump", false, "hex dump each capset blob")
		verbose      = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	rutabaga.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	def, err := rutabaga.ParseComponentType(*component)
	if err != nil {
		log.Fatal(err)
	}
	cfg := rutabaga.Config{
		DefaultComponent: def,
		ContextMask:      rutabaga.ParseContextTypes(*contextTypes),
		DisplayWidth:     uint32(*width),
		DisplayHeight:    uint32(*height),
		StrictCapsets:    *strict,
		Virgl:            rutabaga.VirglFlags{UseExternalBlob: true},
		Gfxstream:        rutabaga.GfxstreamFlags{UseVulkan: true},
	}
	if *wayland != "" {
		cfg.Channels = []rutabaga.Channel{{BasePath: *wayland, ChannelType: rutabaga.ChannelTypeWayland}}
	}

	r, err := rutabaga.Build(cfg, nil)
	if err != nil {
		log.Fatalf("build: %v", err)
	}
	defer r.Close()

	fmt.Printf("default component: %s\n", r.DefaultComponent())
	for i := range r.NumCapsets() {
		id, version, size, err := r.CapsetInfo(i)
		if err != nil {
			log.Fatalf("capset %d: %v", i, err)
		}
		name := "unknown"
		if info, ok := rutabaga.LookupCapset(id); ok {
			name = info.Name
		}
		fmt.Printf("capset %d: %s (id %d) version %d size %d\n", i, name, id, version, size)
		if !*dump {
			continue
		}
		blob, err := r.Capset(id, version)
		if err != nil {
			log.Fatalf("capset %s: %v", name, err)
		}
		fmt.Print(hex.Dump(blob))
	}
}
