package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/storyport/glkbridge/detect"
	"github.com/storyport/glkbridge/protocol"
	"github.com/storyport/glkbridge/session"
	"github.com/storyport/glkbridge/storage"
)

var (
	flagInterpreter string
	flagInterpDir   string
	flagSaveDir     string
	flagSaveDB      string
	flagTUI         bool
	flagWidth       int
	flagHeight      int
	flagVerbose     bool
)

func main() {
	root := &cobra.Command{
		Use:   "glkrun <story>",
		Short: "Run an interactive fiction story in a sandboxed interpreter",
		Long: `glkrun loads a story file (bare image or blorb container), picks the
matching interpreter binary, and runs it. Output is either line-delimited
JSON updates on stdout with JSON events on stdin, or a terminal UI.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd.Context(), args[0])
		},
	}

	root.Flags().StringVar(&flagInterpreter, "interpreter", "", "path to an asyncified interpreter wasm binary")
	root.Flags().StringVar(&flagInterpDir, "interpreter-dir", "interpreters", "directory to resolve interpreter binaries from")
	root.Flags().StringVar(&flagSaveDir, "save-dir", "", "persist saves and transcripts under this directory")
	root.Flags().StringVar(&flagSaveDB, "save-db", "", "persist saves and transcripts in this sqlite database")
	root.Flags().BoolVar(&flagTUI, "tui", false, "play in a terminal UI instead of the JSON protocol")
	root.Flags().IntVar(&flagWidth, "width", 0, "viewport width in cells (default: terminal size)")
	root.Flags().IntVar(&flagHeight, "height", 0, "viewport height in cells (default: terminal size)")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging on stderr")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, storyPath string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	story, err := os.ReadFile(storyPath)
	if err != nil {
		return fmt.Errorf("read story: %w", err)
	}

	det := detect.Detect(storyPath, story)
	interpPath := flagInterpreter
	if interpPath == "" {
		interpPath = filepath.Join(flagInterpDir, det.Interpreter+".wasm")
	}
	interp, err := os.ReadFile(interpPath)
	if err != nil {
		return fmt.Errorf("read interpreter (format %s wants %s): %w", det.Format, det.Interpreter, err)
	}

	provider, err := newProvider(storyPath, log)
	if err != nil {
		return err
	}

	s, err := session.New(ctx, session.Config{
		StoryName:   filepath.Base(storyPath),
		Story:       story,
		Interpreter: interp,
		Provider:    provider,
		Metrics:     viewport(),
		Logger:      log,
	})
	if err != nil {
		return err
	}

	if flagTUI {
		return runTUI(s)
	}
	return runStdio(s, log)
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if flagVerbose {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func newProvider(storyPath string, log *zap.Logger) (storage.Provider, error) {
	switch {
	case flagSaveDB != "":
		return storage.NewSQLite(flagSaveDB, log)
	case flagSaveDir != "":
		dir := filepath.Join(flagSaveDir, filepath.Base(storyPath))
		return storage.NewDisk(dir, log), nil
	default:
		return storage.NewMem(), nil
	}
}

// viewport resolves the negotiated metrics: explicit flags win, then
// the controlling terminal, then the classic 80x24.
func viewport() protocol.Metrics {
	m := protocol.Metrics{Width: flagWidth, Height: flagHeight}
	if m.Width > 0 && m.Height > 0 {
		return m
	}
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		if m.Width <= 0 {
			m.Width = w
		}
		if m.Height <= 0 {
			m.Height = h
		}
	}
	return m
}

// runStdio speaks the wire protocol on the process's own stdio: one
// JSON update per stdout line, one JSON event per stdin line.
func runStdio(s *session.Session, log *zap.Logger) error {
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			var e protocol.Event
			if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
				log.Warn("skipping malformed event line", zap.Error(err))
				continue
			}
			switch e.Type {
			case protocol.EventLine:
				s.SendLine(e.Value)
			case protocol.EventChar:
				s.SendChar(e.Value)
			default:
				s.SendEvent(e)
			}
		}
		s.Stop()
	}()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	for u := range s.Updates() {
		line, err := protocol.EncodeUpdate(u)
		if err != nil {
			log.Warn("dropping unencodable update", zap.Error(err))
			continue
		}
		if _, err := out.Write(line); err != nil {
			s.Stop()
			return err
		}
		out.Flush()
	}
	return nil
}
