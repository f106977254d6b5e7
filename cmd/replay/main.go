package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"yave.dev/internal/config"
	persistlog "yave.dev/internal/persistence/log"
	"yave.dev/internal/server"
	"yave.dev/internal/world/material"
)

var errStop = errors.New("stop")

func main() {
	var (
		ticksDir      = flag.String("ticks", "./data/ticks", "dir containing ticks-*.jsonl.zst")
		fromTick      = flag.Uint64("from_tick", 0, "first tick to report or verify (inclusive)")
		toTick        = flag.Uint64("to_tick", 0, "last tick to read (inclusive, 0 for all)")
		verify        = flag.Bool("verify", false, "re-run the world from tick 0 and compare digests")
		tuningPath    = flag.String("tuning", "", "tuning.yaml the server ran with (verify only)")
		materialsPath = flag.String("materials", "", "materials.json the server ran with (verify only)")
		verbose       = flag.Bool("v", false, "print one line per tick")
	)
	flag.Parse()

	files, err := persistlog.ListTickFiles(*ticksDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list ticks:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no tick files found in", *ticksDir)
		os.Exit(1)
	}

	r := &replayer{from: *fromTick, to: *toTick, out: os.Stdout, verbose: *verbose}
	if *verify {
		w, err := newWorld(*tuningPath, *materialsPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "world:", err)
			os.Exit(1)
		}
		r.world = w
	}

	for _, path := range files {
		if err := persistlog.ReadTicks(path, r.tick); err != nil {
			if errors.Is(err, errStop) {
				break
			}
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	r.summary()
}

func newWorld(tuningPath, materialsPath string) (*server.World, error) {
	reg := material.Default()
	var err error
	if p := strings.TrimSpace(materialsPath); p != "" {
		if reg, err = material.Load(p); err != nil {
			return nil, err
		}
	}
	tune := config.Defaults()
	if p := strings.TrimSpace(tuningPath); p != "" {
		if tune, err = config.Load(p); err != nil {
			return nil, err
		}
	}
	cfg, err := tune.ServerConfig(reg)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return server.New(cfg, logger)
}

type replayer struct {
	from, to uint64
	out      io.Writer
	verbose  bool
	world    *server.World

	ticks, events, joins, leaves uint64
	loaded, unloaded, failures   uint64
	checked                      uint64
}

func (r *replayer) tick(e server.TickLogEntry) error {
	if r.to != 0 && e.Tick > r.to {
		return errStop
	}
	if r.world != nil {
		got, err := r.world.ReplayTick(e)
		if err != nil {
			return err
		}
		if e.Tick >= r.from {
			r.checked++
			if got != e.Digest {
				return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", e.Tick, got, e.Digest)
			}
		}
	}
	if e.Tick < r.from {
		return nil
	}

	r.ticks++
	r.events += uint64(len(e.Events))
	r.joins += uint64(len(e.Joins))
	r.leaves += uint64(len(e.Leaves))
	r.loaded += uint64(len(e.Loaded))
	r.unloaded += uint64(len(e.Unloaded))
	r.failures += uint64(e.SendFailures)
	if r.verbose {
		fmt.Fprintf(r.out, "tick=%d digest=%s events=%d joins=%d leaves=%d loaded=%d unloaded=%d send_failures=%d\n",
			e.Tick, e.Digest, len(e.Events), len(e.Joins), len(e.Leaves), len(e.Loaded), len(e.Unloaded), e.SendFailures)
	}
	return nil
}

func (r *replayer) summary() {
	fmt.Fprintf(r.out, "ticks=%d events=%d joins=%d leaves=%d loaded=%d unloaded=%d send_failures=%d\n",
		r.ticks, r.events, r.joins, r.leaves, r.loaded, r.unloaded, r.failures)
	if r.world != nil {
		fmt.Fprintf(r.out, "replay ok: checked=%d ticks\n", r.checked)
	}
}
