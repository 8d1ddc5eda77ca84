// Command branchc compiles .script source into a .story binary.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	branchscript "github.com/branchscript/branchscript"
)

const version = "0.1.0"

func main() {
	var (
		outputPath    = flag.String("o", "", "Path to the output .story file")
		exportStrings = flag.String("export-strings", "", "Write a translatable-strings CSV to this path")
		showVersion   = flag.Bool("version", false, "Print the compiler version and exit")
		noOptimize    = flag.Bool("no-optimize", false, "Disable the condition-folding optimizer")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: branchc <input.script> [-o output.story] [--export-strings path.csv]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println("branchc", version)
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	inputPath := flag.Arg(0)
	src, err := os.ReadFile(inputPath)
	if err != nil {
		log.Fatalf("branchc: can't read %s: %s", inputPath, err)
	}

	cfg := branchscript.NewConfig()
	if *noOptimize {
		cfg.SetBool("compiler.optimize", false)
	}

	manifestPath := filepath.Join(filepath.Dir(inputPath), "story.meta.yaml")
	manifest, mErr := branchscript.LoadManifest(manifestPath)
	if mErr == nil {
		for _, lerr := range manifest.ValidateLocales() {
			fmt.Fprintln(os.Stderr, color.YellowString("branchc: warning: %s", lerr))
		}
	}

	result := branchscript.Compile(inputPath, src, cfg)
	if result.Diagnostics.HasErrors() {
		for _, d := range result.Diagnostics {
			fmt.Fprintln(os.Stderr, color.RedString(d.String()))
		}
		os.Exit(1)
	}

	if manifest != nil {
		manifest.ApplyCharacters(result.Story)
		result.Binary = branchscript.EncodeStory(result.Story)
	}

	out := *outputPath
	if out == "" && manifest != nil && manifest.OutputPath != "" {
		out = manifest.OutputPath
	}
	if out == "" {
		out = strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".story"
	}
	if err := os.WriteFile(out, result.Binary, 0644); err != nil {
		log.Fatalf("branchc: can't write %s: %s", out, err)
	}

	if *exportStrings != "" {
		f, err := os.Create(*exportStrings)
		if err != nil {
			log.Fatalf("branchc: can't create %s: %s", *exportStrings, err)
		}
		defer f.Close()
		if err := branchscript.ExportStringsCSV(f, result.Story); err != nil {
			log.Fatalf("branchc: can't write %s: %s", *exportStrings, err)
		}
	}

	fmt.Println(color.GreenString("compiled %s -> %s", inputPath, out))
}
