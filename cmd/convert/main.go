package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pelletier/go-toml"
)

// Config holds the settings of a conversion. It may be loaded from a TOML file, after which
// command line flags that are set override its values.
type Config struct {
	Source      string   `toml:"source"`
	Dest        string   `toml:"dest"`
	From        string   `toml:"from"`
	To          string   `toml:"to"`
	Compression string   `toml:"compression"`
	Dimensions  []string `toml:"dimensions"`
	Cache       int      `toml:"cache"`
	Verbose     bool     `toml:"verbose"`
}

func usage() {
	fmt.Println(color.New(color.FgCyan, color.Bold).Sprint("World Converter - Copy chunks between world formats"))
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  convert -source <path> -dest <path> -from <format> -to <format>")
	fmt.Println("  convert -config convert.toml")
	fmt.Println()
	fmt.Println("Formats: " + strings.Join(formats, ", "))
	fmt.Println()
	fmt.Println("Block identifiers are copied unchanged. Block states and metadata are only")
	fmt.Println("kept between worlds of compatible formats.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  convert -source ./world -dest ./world_zstd -from anvil -to anvil -compression zstd")
	fmt.Println("  convert -source ./old -dest ./new -from mcregion -to anvil -dims overworld")
	fmt.Println()
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "TOML file holding the conversion settings")
	source := flag.String("source", "", "Source world folder path")
	dest := flag.String("dest", "", "Destination world folder path")
	from := flag.String("from", "", "Source format")
	to := flag.String("to", "", "Destination format")
	scheme := flag.String("compression", "", "Compression of written Anvil chunks")
	dims := flag.String("dims", "", "Comma separated dimensions to convert (default: all)")
	cache := flag.Int("cache", 0, "Chunk cache capacity of each world")
	verbose := flag.Bool("v", false, "Log debug messages")
	flag.Usage = usage
	flag.Parse()

	var conf Config
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			fatal("Failed to read config: %v", err)
		}
		if err := toml.Unmarshal(data, &conf); err != nil {
			fatal("Failed to parse config %s: %v", *configPath, err)
		}
	}
	override(&conf.Source, *source)
	override(&conf.Dest, *dest)
	override(&conf.From, *from)
	override(&conf.To, *to)
	override(&conf.Compression, *scheme)
	if *dims != "" {
		conf.Dimensions = strings.Split(*dims, ",")
	}
	if *cache != 0 {
		conf.Cache = *cache
	}
	conf.Verbose = conf.Verbose || *verbose

	if conf.Source == "" || conf.Dest == "" || conf.From == "" || conf.To == "" {
		usage()
		os.Exit(1)
	}

	level := slog.LevelWarn
	if conf.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	start := time.Now()
	fmt.Printf("Converting from %s to %s...\n", conf.From, conf.To)
	fmt.Printf("Source: %s\n", conf.Source)
	fmt.Printf("Destination: %s\n", conf.Dest)

	total, err := run(conf, log, func(n int) {
		if n%100 == 0 {
			fmt.Printf("\rConverted %d chunks...", n)
		}
	})
	if err != nil {
		fmt.Println()
		fatal("Conversion failed: %v", err)
	}

	elapsed := time.Since(start)
	color.Green("\n✓ Conversion complete!")
	fmt.Printf("  Total chunks: %d\n", total)
	fmt.Printf("  Time: %v\n", elapsed.Round(time.Millisecond))
	if elapsed.Seconds() > 0 {
		fmt.Printf("  Speed: %.0f chunks/second\n", float64(total)/elapsed.Seconds())
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func fatal(format string, a ...any) {
	color.Red(format, a...)
	os.Exit(1)
}
