// TextWorld CLI - play, inspect and record Z-machine stories
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chiijlaw/TextWorld/env"
	"github.com/chiijlaw/TextWorld/journal"
	"github.com/chiijlaw/TextWorld/manifest"
	"github.com/chiijlaw/TextWorld/zmachine"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	seed := flag.Int64("seed", 0, "Random seed (0 draws one from entropy)")
	budget := flag.Int64("budget", 0, "Instruction budget per turn (0 uses the default)")
	undoSlots := flag.Int("undo", 0, "Undo ring depth (0 uses the default)")
	info := flag.Bool("info", false, "Print story header information and exit")
	walk := flag.String("walk", "", "Play a slash-separated walkthrough script")
	walkFile := flag.String("walk-file", "", "Play a walkthrough script read from a file")
	record := flag.String("record", "", "Journal the walkthrough under this session id")
	replay := flag.String("replay", "", "Replay a journalled session and verify the transcript")
	saveDir := flag.String("save-dir", "", "Directory for in-game save files")
	journalPath := flag.String("journal", "", "Journal database path")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: textworld [options] <story>\n\n")
		fmt.Fprintf(os.Stderr, "Plays a Z-machine story file. Story names are resolved against the\n")
		fmt.Fprintf(os.Stderr, "textworld.toml story directories and $%s.\n\n", manifest.StoryPathEnv)
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  textworld curses.z5                         # Play interactively\n")
		fmt.Fprintf(os.Stderr, "  textworld -info zork1.z3                    # Show the story header\n")
		fmt.Fprintf(os.Stderr, "  textworld -seed 4 -walk 'go north/get lamp' curses.z5\n")
		fmt.Fprintf(os.Stderr, "  textworld -seed 4 -walk-file solve.txt -record run1 curses.z5\n")
		fmt.Fprintf(os.Stderr, "  textworld -replay run1 curses.z5            # Verify a recorded run\n")
	}
	flag.Parse()

	if *verbose {
		commonlog.Configure(1, nil)
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	// A textworld.toml up the tree supplies defaults for anything the flags
	// leave unset.
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if m != nil {
		if *seed == 0 {
			*seed = m.Interpreter.Seed
		}
		if *budget == 0 {
			*budget = m.Interpreter.Budget
		}
		if *undoSlots == 0 {
			*undoSlots = m.Interpreter.UndoSlots
		}
		if *saveDir == "" {
			*saveDir = m.SavesDirPath()
		}
		if *journalPath == "" && m.Journal.Enabled {
			*journalPath = m.JournalPath()
		}
	}
	if *saveDir == "" {
		*saveDir = "."
	}

	storyPath, err := manifest.NewLocator(m).Resolve(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	story, err := zmachine.LoadStoryFile(storyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", storyPath, err)
		os.Exit(1)
	}
	if m != nil && m.Story.Version != 0 && int(story.Version) != m.Story.Version {
		fmt.Fprintf(os.Stderr, "Error: %s is version %d, manifest pins version %d\n",
			storyPath, story.Version, m.Story.Version)
		os.Exit(1)
	}
	if *verbose {
		commonlog.NewInfoMessage(0, fmt.Sprintf("loaded %s (v%d, release %d)",
			storyPath, story.Version, story.Release))
	}

	if *info {
		printInfo(storyPath, story)
		return
	}

	cfg := &env.Config{Seed: *seed, Budget: *budget, UndoSlots: *undoSlots}

	switch {
	case *replay != "":
		if *journalPath == "" {
			fmt.Fprintf(os.Stderr, "Error: -replay needs a journal (use -journal or a manifest)\n")
			os.Exit(1)
		}
		if err := replaySession(storyPath, story, cfg, *journalPath, *replay, *verbose); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *walk != "" || *walkFile != "":
		script := *walk
		if *walkFile != "" {
			data, err := os.ReadFile(*walkFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			script = string(data)
		}
		if err := playWalkthrough(storyPath, story, cfg, script, *record, *journalPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		if err := playInteractive(storyPath, story, cfg, *saveDir); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

// printInfo dumps the parsed story header.
func printInfo(path string, s *zmachine.Story) {
	fmt.Printf("%s\n", path)
	fmt.Printf("  version:       %d\n", s.Version)
	fmt.Printf("  release:       %d\n", s.Release)
	fmt.Printf("  serial:        %s\n", string(s.Serial[:]))
	fmt.Printf("  checksum:      %#04x (computed %#04x)\n", s.Checksum, s.ComputeChecksum())
	fmt.Printf("  initial pc:    %#x\n", s.InitialPC)
	fmt.Printf("  static base:   %#x\n", s.StaticBase)
	fmt.Printf("  high base:     %#x\n", s.HighBase)
	fmt.Printf("  dictionary:    %#x\n", s.Dictionary)
	fmt.Printf("  object table:  %#x\n", s.ObjectTable)
	fmt.Printf("  globals:       %#x\n", s.Globals)
	fmt.Printf("  abbreviations: %#x\n", s.Abbreviations)
	fmt.Printf("  file length:   %d bytes (%d on disk)\n", s.FileLength, s.Size())
}

// playInteractive runs the story against stdin/stdout with the in-game save
// and restore opcodes wired to a Quetzal file in the save directory.
func playInteractive(storyPath string, story *zmachine.Story, cfg *env.Config, saveDir string) error {
	m := zmachine.NewMachine(story, cfg.Seed)
	m.SetInstructionBudget(cfg.Budget)
	m.SetUndoSlots(cfg.UndoSlots)

	base := strings.TrimSuffix(filepath.Base(storyPath), filepath.Ext(storyPath))
	savePath := filepath.Join(saveDir, base+".qzl")
	m.SetSaveHandler(func(snap *zmachine.Snapshot) error {
		if err := os.MkdirAll(saveDir, 0755); err != nil {
			return err
		}
		return zmachine.WriteQuetzalFile(savePath, story, snap)
	})
	m.SetRestoreHandler(func() (*zmachine.Snapshot, error) {
		return zmachine.ReadQuetzalFile(savePath, story)
	})

	if err := m.Run(); err != nil {
		return err
	}
	fmt.Print(m.Drain())

	scanner := bufio.NewScanner(os.Stdin)
	for m.State() == zmachine.StateWaitingForInput {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		if err := m.Feed(scanner.Text()); err != nil {
			return err
		}
		fmt.Print(m.Drain())
	}
	return nil
}

// playWalkthrough plays a slash-separated script through the environment,
// printing the transcript, and optionally journals it.
func playWalkthrough(storyPath string, story *zmachine.Story, cfg *env.Config, script, record, journalPath string) error {
	e, err := env.New(story, cfg)
	if err != nil {
		return err
	}
	fmt.Print(e.Observation())

	actions := env.SplitActions(script)

	var results []env.StepResult
	if record != "" {
		if journalPath == "" {
			return fmt.Errorf("-record needs a journal (use -journal or a manifest)")
		}
		if err := os.MkdirAll(filepath.Dir(journalPath), 0755); err != nil {
			return err
		}
		j, err := journal.Open(journalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		results, err = j.Record(e, record, storyPath, cfg.Seed, actions)
		if err != nil {
			return err
		}
	} else {
		results, err = e.Walkthrough(actions)
		if err != nil {
			return err
		}
	}

	for _, r := range results {
		fmt.Printf("> %s\n%s", r.Action, r.Observation)
	}
	fmt.Printf("\n[%d turns, score %d of %d, game over: %v]\n",
		e.Moves(), e.Score(), e.GetMaxScore(), e.GameOver())
	return nil
}

// replaySession replays a journalled session's actions against a fresh
// environment and reports the first divergence, if any. A clean replay is
// the determinism check: same story, same seed, same transcript.
func replaySession(storyPath string, story *zmachine.Story, cfg *env.Config, journalPath, id string, verbose bool) error {
	j, err := journal.Open(journalPath)
	if err != nil {
		return err
	}
	defer j.Close()

	session, err := j.Session(id)
	if err != nil {
		return err
	}
	steps, err := j.Steps(id)
	if err != nil {
		return err
	}

	cfg.Seed = session.Seed
	e, err := env.New(story, cfg)
	if err != nil {
		return err
	}

	for _, step := range steps {
		obs, score, done, info, err := e.Step(step.Action)
		if err != nil {
			return fmt.Errorf("step %d (%q): %w", step.Idx, step.Action, err)
		}
		if obs != step.Observation || score != step.Score || info.Moves != step.Moves || done != step.Done {
			fmt.Printf("DIVERGED at step %d (%q):\n", step.Idx, step.Action)
			fmt.Printf("  recorded: score %d, moves %d, done %v\n%s\n", step.Score, step.Moves, step.Done, step.Observation)
			fmt.Printf("  replayed: score %d, moves %d, done %v\n%s\n", score, info.Moves, done, obs)
			return fmt.Errorf("session %s does not replay", id)
		}
		if verbose {
			commonlog.NewInfoMessage(0, fmt.Sprintf("step %d ok (%q)", step.Idx, step.Action))
		}
	}
	fmt.Printf("session %s replayed cleanly: %d steps, final score %d\n", id, len(steps), e.Score())
	return nil
}
