// Command branchdbg is a read-only, batch story inspector: it lists
// nodes, dumps save-file contents, and replays a fixed choice trace
// through a compiled .story. It is deliberately not an interactive
// console or REPL.
package main

import (
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/urfave/cli/v2"

	branchscript "github.com/branchscript/branchscript"
)

func main() {
	app := &cli.App{
		Name:  "branchdbg",
		Usage: "inspect compiled .story and .save files without driving an interactive session",
		Commands: []*cli.Command{
			nodesCommand(),
			dumpSaveCommand(),
			traceCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "branchdbg:", err)
		os.Exit(1)
	}
}

func loadStoryFile(path string) (*branchscript.Story, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return branchscript.LoadStory(buf)
}

func nodesCommand() *cli.Command {
	return &cli.Command{
		Name:      "nodes",
		Usage:     "list every node name in a compiled story",
		ArgsUsage: "<story-file>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected exactly one story file argument", 1)
			}
			story, err := loadStoryFile(c.Args().First())
			if err != nil {
				return err
			}
			for _, name := range story.NodeNames() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func dumpSaveCommand() *cli.Command {
	return &cli.Command{
		Name:      "dump-save",
		Usage:     "pretty-print a save file's full runtime state",
		ArgsUsage: "<save-file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dump-state", Usage: "use go-spew for a deep field-by-field dump"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected exactly one save file argument", 1)
			}
			buf, err := os.ReadFile(c.Args().First())
			if err != nil {
				return err
			}
			save, err := branchscript.DecodeSave(buf)
			if err != nil {
				return err
			}
			if c.Bool("dump-state") {
				spew.Dump(save)
				return nil
			}
			fmt.Printf("save_id:      %s\n", save.SaveID)
			fmt.Printf("story_version: %s\n", save.StoryVersion)
			fmt.Printf("current_node: %s\n", save.CurrentNode)
			fmt.Printf("pc:           %d\n", save.PC)
			fmt.Printf("finished:     %v\n", save.Finished)
			fmt.Printf("call_depth:   %d\n", len(save.CallStack))
			fmt.Printf("variables:    %d\n", len(save.Variables))
			return nil
		},
	}
}

func traceCommand() *cli.Command {
	return &cli.Command{
		Name:      "trace",
		Usage:     "replay a fixed comma-separated choice sequence and print each emitted event",
		ArgsUsage: "<story-file> <choice-indices>",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "seed", Value: 1, Usage: "PRNG seed for random: branches"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("expected a story file argument", 1)
			}
			story, err := loadStoryFile(c.Args().First())
			if err != nil {
				return err
			}
			indices := parseIndices(c.Args().Get(1))

			vm := branchscript.NewVM(story, branchscript.NewConfig())
			vm.SetSeed(c.Int64("seed"))
			vm.Start()

			step := 0
			for !vm.IsFinished() {
				ev := vm.Step()
				printEvent(step, ev)
				step++
				if ev.Kind == branchscript.EventChoices {
					idx := 0
					if len(indices) > 0 {
						idx, indices = indices[0], indices[1:]
					}
					vm.Choose(idx)
				}
				if ev.Kind == branchscript.EventEnd {
					break
				}
			}
			return nil
		},
	}
}

func parseIndices(s string) []int {
	var out []int
	cur := 0
	has := false
	for _, r := range s {
		if r >= '0' && r <= '9' {
			cur = cur*10 + int(r-'0')
			has = true
			continue
		}
		if has {
			out = append(out, cur)
		}
		cur, has = 0, false
	}
	if has {
		out = append(out, cur)
	}
	return out
}

func printEvent(step int, ev branchscript.Event) {
	switch ev.Kind {
	case branchscript.EventLine:
		if ev.HasChar {
			fmt.Printf("%3d  %s: %s\n", step, ev.Character, ev.Text)
		} else {
			fmt.Printf("%3d  %s\n", step, ev.Text)
		}
	case branchscript.EventChoices:
		for _, opt := range ev.Choices {
			fmt.Printf("%3d  [%d] %s\n", step, opt.Index, opt.Text)
		}
	case branchscript.EventCommand:
		fmt.Printf("%3d  @%s %v\n", step, ev.CmdType, ev.CmdParams)
	case branchscript.EventEnd:
		fmt.Printf("%3d  <end>\n", step)
	}
}
