// Command latgen decodes a batch of utterances against a decoding graph,
// writing one lattice per utterance and printing the 1-best output labels.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	latgen "github.com/ieee0824/latgen-go"
	"github.com/ieee0824/latgen-go/decoder"
	"github.com/ieee0824/latgen-go/fst"
	"github.com/ieee0824/latgen-go/lattice"
	"github.com/ieee0824/latgen-go/score"
)

func main() {
	var (
		graphPath  string
		scoresPath string
		latticeDir string
		alignOut   bool
		scale      float64
		workers    int
		loglevel   string
		cfg        = decoder.DefaultConfig()
	)

	root := &cobra.Command{
		Use:           "latgen --graph FST --scores SCORES [--lattice-dir DIR]",
		Short:         "lattice-generating beam search decoder",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(loglevel)
			return run(log, graphPath, scoresPath, latticeDir, alignOut, scale, workers, cfg)
		},
	}

	fl := root.Flags()
	fl.StringVar(&graphPath, "graph", "", "decoding graph in text FST format")
	fl.StringVar(&scoresPath, "scores", "", "JSON archive of per-utterance cost matrices")
	fl.StringVar(&latticeDir, "lattice-dir", "", "directory for per-utterance lattice JSON (omit to skip)")
	fl.BoolVar(&alignOut, "align", false, "also print the frame alignment per utterance")
	fl.Float64Var(&cfg.Beam, "beam", cfg.Beam, "decoding beam")
	fl.Float64Var(&cfg.LatticeBeam, "lattice-beam", cfg.LatticeBeam, "lattice generation beam")
	fl.IntVar(&cfg.MaxActive, "max-active", cfg.MaxActive, "max active tokens per frame")
	fl.IntVar(&cfg.MinActive, "min-active", cfg.MinActive, "min active tokens per frame")
	fl.BoolVar(&cfg.Determinize, "determinize", cfg.Determinize, "determinize output lattices")
	fl.BoolVar(&cfg.AllowPartial, "allow-partial", cfg.AllowPartial, "produce output even if no final state was reached")
	fl.IntVar(&cfg.MaxLatticeArcs, "max-lattice-arcs", cfg.MaxLatticeArcs, "lattice arc cap, 0 = unlimited")
	fl.Float64Var(&scale, "acoustic-scale", 1.0, "scaling factor for acoustic costs")
	fl.IntVar(&workers, "workers", 1, "concurrent utterance decodes")
	fl.StringVar(&loglevel, "loglevel", "info", "console log level")
	_ = root.MarkFlagRequired("graph")
	_ = root.MarkFlagRequired("scores")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).With().Timestamp().Logger()
}

func run(log zerolog.Logger, graphPath, scoresPath, latticeDir string, alignOut bool, scale float64, workers int, cfg decoder.Config) error {
	gf, err := os.Open(graphPath)
	if err != nil {
		return err
	}
	graph, err := fst.ReadText(gf)
	gf.Close()
	if err != nil {
		return err
	}
	log.Info().Int("states", graph.NumStates()).Int("arcs", graph.NumArcs()).Msg("graph loaded")

	sf, err := os.Open(scoresPath)
	if err != nil {
		return err
	}
	arch, err := score.ReadArchive(sf)
	sf.Close()
	if err != nil {
		return err
	}

	runner, err := latgen.NewRunner(graph,
		latgen.WithConfig(cfg),
		latgen.WithLogger(log),
		latgen.WithWorkers(workers),
		latgen.WithAcousticScale(scale),
	)
	if err != nil {
		return err
	}

	if latticeDir != "" {
		if err := os.MkdirAll(latticeDir, 0o755); err != nil {
			return err
		}
	}

	utts := make([]latgen.Utterance, 0, len(arch))
	for _, id := range arch.IDs() {
		utts = append(utts, latgen.Utterance{ID: id, Source: arch[id]})
	}

	start := time.Now()
	stats := runner.DecodeBatch(context.Background(), utts)
	elapsed := time.Since(start)

	for _, res := range stats.Results {
		if res == nil {
			continue
		}
		fmt.Printf("%s\t%s\n", res.ID, joinLabels(res.Best.Outputs))
		if alignOut {
			fmt.Printf("%s\t%s\n", res.ID, joinLabels(res.Best.Alignment))
		}
		if latticeDir != "" {
			if err := writeLattice(latticeDir, res); err != nil {
				log.Warn().Str("utt", res.ID).Err(err).Msg("lattice write failed")
			}
		}
	}

	// Real-time factor assumes the conventional 100 frames per second.
	if stats.Frames > 0 {
		log.Info().
			Dur("elapsed", elapsed).
			Float64("rtf", elapsed.Seconds()*100.0/float64(stats.Frames)).
			Msg("timing")
	}
	if stats.Done == 0 {
		return fmt.Errorf("no utterances decoded successfully (%d failed)", stats.Failed)
	}
	return nil
}

func writeLattice(dir string, res *latgen.UttResult) error {
	f, err := os.Create(filepath.Join(dir, res.ID+".lat.json"))
	if err != nil {
		return err
	}
	defer f.Close()
	return lattice.WriteJSON(f, res.Lat)
}

func joinLabels(labels []fst.Label) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = fmt.Sprint(int(l))
	}
	return strings.Join(parts, " ")
}
