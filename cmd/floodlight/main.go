// Copyright (C) 2022 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/rs/zerolog"

	fl "github.com/mlnoga/floodlight/internal"
	"github.com/mlnoga/floodlight/internal/connectivity"
	"github.com/mlnoga/floodlight/internal/flood"
	"github.com/mlnoga/floodlight/internal/lee"
	"github.com/mlnoga/floodlight/internal/ops"
	"github.com/mlnoga/floodlight/internal/ops/despeckle"
	"github.com/mlnoga/floodlight/internal/ops/floodmask"
	"github.com/mlnoga/floodlight/internal/raster"
	"github.com/mlnoga/floodlight/internal/region"
	"github.com/mlnoga/floodlight/internal/rest"
	"github.com/mlnoga/floodlight/internal/source"
	"github.com/mlnoga/floodlight/internal/synth"
	"github.com/mlnoga/floodlight/internal/terrain"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")

var out = flag.String("out", "%auto", "save output to `file` or filename pattern, e.g. `despeckled%d.fits`. `%auto` picks a default per command")
var jpg = flag.String("jpg", "", "save 8bit preview of output as JPEG to `file`")
var log = flag.String("log", "", "save log output to `file`")

var tie = flag.String("tie", "lowest", "tie policy for the edge orientation of the speckle filter, one of lowest or fail")
var tileSize = flag.Int("tileSize", 0, "tile size in pixels for the speckle filter, 0=from memory budget, -1=untiled")
var threads = flag.Int("threads", runtime.GOMAXPROCS(0), "maximum number of concurrent tiles and rasters")

var diffThreshold = flag.Float64("diffThreshold", flood.DefaultDiffThreshold, "flag pixels where the ratio of filtered after to before dB values exceeds this")
var suggest = flag.Float64("suggest", 0, "print a suggested threshold at this many standard deviations above the ratio mode, 0=off")

var seasonality = flag.String("seasonality", "", "water seasonality raster `file` in months, excludes permanent water")
var elevation = flag.String("elevation", "", "elevation raster `file` in meters, excludes steep slopes")
var waterMonths = flag.Float64("waterMonths", 5, "seasonality in months at or above which water is permanent")
var maxSlope = flag.Float64("maxSlope", 5, "slope in degrees above which pixels are excluded")
var minConnected = flag.Int("minConnected", 8, "exclude flooded components with fewer pixels than this")
var maxConnected = flag.Int("maxConnected", 25, "cap on connected pixel counting")
var eightConnected = flag.Bool("eightConnected", true, "count diagonal neighbors as connected")

var catalogue = flag.String("catalogue", "catalogue.json", "scene catalogue `file`")
var regionArg = flag.String("region", "tc-cody", "region of interest, a preset name or a GeoJSON `file`")
var beforeStart = flag.String("beforeStart", "2021-12-01", "start of the before window, inclusive")
var beforeEnd = flag.String("beforeEnd", "2022-01-01", "end of the before window, exclusive")
var afterStart = flag.String("afterStart", "2022-01-08", "start of the after window, inclusive")
var afterEnd = flag.String("afterEnd", "2022-01-20", "end of the after window, exclusive")
var outDir = flag.String("outDir", ".", "directory for exports")
var format = flag.String("format", ".fits", "export format suffix, one of .fits, .nc, .tif or .jpg")
var description = flag.String("description", "flood-mask-tc-cody", "export description, used as base file name")
var pipeline = flag.String("pipeline", "", "run the operator pipeline from JSON `file` instead of the built-in one")
var printPipeline = flag.Bool("printPipeline", false, "print the pipeline as JSON before running it")

var seed = flag.Int("seed", 42, "random seed for synthetic scenes")
var size = flag.Int("size", 128, "width and height of synthetic scenes in pixels")

var addr = flag.String("addr", ":8080", "listen address for the REST server")
var chroot = flag.String("chroot", "", "chroot into this directory before serving, requires root")
var setuid = flag.Int("setuid", -1, "set user id before serving, -1=keep")

func main() {
	logWriter := fl.LogWriter()
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Floodlight Copyright (c) 2022 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (stats|despeckle|detect|map|synth|serve|sysinfo|legal|version) (img0.fits ... imgn.fits)

Commands:
  stats     Show input raster statistics
  despeckle Apply the refined Lee filter to dB rasters
  detect    Detect flooded pixels from a before and an after dB raster, optionally refine
  map       Fetch mosaics from a scene catalogue, detect, refine and export a flood mask
  synth     Write a synthetic scene catalogue with a known flooded block
  serve     Serve the REST API
  sysinfo   Show CPU and memory information
  legal     Show license and attribution information
  version   Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *log != "" {
		if err := fl.LogAlsoToFile(*log); err != nil {
			fl.LogFatalf("Unable to open logfile '%s'\n", *log)
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fl.LogFatalf("Could not create CPU profile: %s\n", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fl.LogFatalf("Could not start CPU profile: %s\n", err)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	tiePolicy, err := lee.ParseTiePolicy(*tie)
	if err != nil {
		fl.LogFatalf("Error: %s\n", err)
	}

	c := ops.NewContext(logWriter)
	c.MaxThreads = *threads

	switch args[0] {
	case "stats":
		err = cmdStats(args[1:], c)

	case "despeckle":
		err = cmdDespeckle(args[1:], tiePolicy, c)

	case "detect":
		err = cmdDetect(args[1:], tiePolicy, c)

	case "map":
		err = cmdMap(tiePolicy, c)

	case "synth":
		err = cmdSynth(logWriter)

	case "serve":
		err = cmdServe(logWriter)

	case "sysinfo":
		fmt.Fprintf(logWriter, "%s\n", fl.GetSysInfo())

	case "legal":
		cmdLegal(logWriter)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	fmt.Fprintf(logWriter, "\nDone after %v\n", time.Since(start))
	if err != nil {
		fl.LogFatalf("Error: %s\n", err.Error())
	}
	fl.LogSync()
}

// Applies the default output name if the out flag is %auto
func outOr(def string) string {
	if *out == "%auto" {
		return def
	}
	return *out
}

func cmdStats(args []string, c *ops.Context) error {
	promises, err := ops.NewOpLoadMany(args).MakePromises(nil, c)
	if err != nil {
		return err
	}
	_, err = ops.MaterializeAll(promises, c.MaxThreads, true)
	return err
}

func cmdDespeckle(args []string, tie lee.TiePolicy, c *ops.Context) error {
	seq := ops.NewOpSequence(
		ops.NewOpLoadMany(args),
		despeckle.NewOpDespeckle(despeckle.NewOpRefinedLee(*tileSize, tie)),
		ops.NewOpSave(outOr("despeckled%d.fits")),
	)
	if *jpg != "" {
		seq.Append(ops.NewOpSave(*jpg))
	}
	if *printPipeline {
		if err := printJSON(c.Log, "Despeckling with these settings:\n", seq); err != nil {
			return err
		}
	}
	promises, err := seq.MakePromises(nil, c)
	if err != nil {
		return err
	}
	_, err = ops.MaterializeAll(promises, c.MaxThreads, true)
	return err
}

func loadAux(fileName string, unit raster.Unit, id int, c *ops.Context) (*raster.Raster, error) {
	if fileName == "" {
		return nil, nil
	}
	op := ops.NewOpLoad(id, fileName)
	op.Unit = unit
	return op.Apply(nil, c)
}

func cmdDetect(args []string, tie lee.TiePolicy, c *ops.Context) error {
	if len(args) != 2 {
		return fmt.Errorf("detect needs a before and an after raster, got %d", len(args))
	}
	rs := make([]*raster.Raster, 2)
	for i, a := range args {
		r, err := ops.NewOpLoad(i+1, a).Apply(nil, c)
		if err != nil {
			return err
		}
		if r.Unit == raster.UnitNone {
			r.Unit = raster.UnitDB
		}
		rs[i] = r
	}

	p := flood.DefaultDetectParams()
	p.DiffThreshold, p.Tie, p.MaxThreads = float32(*diffThreshold), tie, c.MaxThreads
	switch {
	case *tileSize > 0:
		p.TileSize = *tileSize
	case *tileSize == 0:
		p.TileSize = c.AutoTileSize(rs[0].Width(), rs[0].Height())
	}
	d, err := flood.Detect(rs[0], rs[1], p)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "Ratio %v, %d pixels above threshold %g\n", d.Ratio.CalcStats(), raster.CountTrue(d.Mask), p.DiffThreshold)
	if *suggest > 0 {
		t, err := flood.SuggestThreshold(d.Ratio, float32(*suggest))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.Log, "Suggested threshold at %g sigma: %g\n", *suggest, t)
	}

	season, err := loadAux(*seasonality, raster.UnitMonths, 3, c)
	if err != nil {
		return err
	}
	dem, err := loadAux(*elevation, raster.UnitMeters, 4, c)
	if err != nil {
		return err
	}
	refiner := flood.NewRefiner(terrain.New(), connectivity.New(*eightConnected))
	refiner.Params = flood.RefineParams{
		WaterMonths: float32(*waterMonths), MaxSlope: float32(*maxSlope),
		MinConnected: *minConnected, MaxConnected: *maxConnected,
	}
	st, err := refiner.Refine(d.Mask, season, dem)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "Refined flood mask from %d to %d to %d to %d pixels\n",
		raster.CountTrue(st.Initial), raster.CountTrue(st.NoPermanentWater), raster.CountTrue(st.NoSteepSlope), raster.CountTrue(st.Final))

	fileName := outOr("flood-mask.fits")
	fmt.Fprintf(c.Log, "Writing flood mask to %s\n", fileName)
	if err := source.WriteFile(st.Final, fileName, 95); err != nil {
		return err
	}
	if *jpg != "" {
		return source.WriteFile(st.Final, *jpg, 95)
	}
	return nil
}

// Builds the flood mapping pipeline from flags, or reads it from the pipeline file
func mapPipeline(tie lee.TiePolicy) (ops.Operator, error) {
	if *pipeline != "" {
		data, err := os.ReadFile(*pipeline)
		if err != nil {
			return nil, err
		}
		return ops.UnmarshalOperator(data)
	}
	detect := floodmask.NewOpDetect(float32(*diffThreshold), tie)
	detect.TileSize = *tileSize
	refine := floodmask.NewOpRefine(flood.RefineParams{
		WaterMonths: float32(*waterMonths), MaxSlope: float32(*maxSlope),
		MinConnected: *minConnected, MaxConnected: *maxConnected,
	})
	refine.EightConnected = *eightConnected
	return floodmask.NewFloodMap(
		floodmask.Window{Start: *beforeStart, End: *beforeEnd},
		floodmask.Window{Start: *afterStart, End: *afterEnd},
		detect, refine, floodmask.NewOpExport(*description),
	), nil
}

func cmdMap(tie lee.TiePolicy, c *ops.Context) error {
	reg, err := region.Lookup(*regionArg)
	if err != nil {
		return err
	}
	cat, err := source.LoadCatalogue(*catalogue)
	if err != nil {
		return err
	}
	cat.Log = c.Log
	sink := source.NewFileSink(*outDir)
	sink.Suffix, sink.Log = *format, c.Log
	c.Source, c.Sink, c.Region = cat, sink, reg

	op, err := mapPipeline(tie)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "Mapping floods in %s from %d catalogued scenes\n", reg, len(cat.Scenes))
	if *printPipeline {
		if err := printJSON(c.Log, "Pipeline:\n", op); err != nil {
			return err
		}
	}
	promises, err := op.MakePromises(nil, c)
	if err != nil {
		return err
	}
	_, err = ops.MaterializeAll(promises, c.MaxThreads, true)
	return err
}

func cmdSynth(logWriter io.Writer) error {
	p := synth.DefaultParams()
	p.Seed = uint32(*seed)
	if *size != p.Width {
		f := float64(*size) / float64(p.Width)
		scale := func(v int) int { return int(float64(v) * f) }
		p.Width, p.Height = *size, *size
		p.Block = [4]int{scale(p.Block[0]), scale(p.Block[1]), scale(p.Block[2]), scale(p.Block[3])}
		p.River = [2]int{scale(p.River[0]), scale(p.River[1])}
		p.HillX = scale(p.HillX)
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return err
	}
	fileName, err := synth.WriteCatalogue(p, *outDir, logWriter)
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "Wrote synthetic catalogue %s. Run: %s -catalogue %s -outDir %s map\n",
		fileName, filepath.Base(os.Args[0]), fileName, *outDir)
	return nil
}

func cmdServe(logWriter io.Writer) error {
	if err := rest.MakeSandbox(*chroot, *setuid, logWriter); err != nil {
		return err
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	logger.Info().Str("component", "serve").Str("sysinfo", fl.GetSysInfo().String()).Msg("starting")
	return rest.NewServer(logger, *threads).Run(*addr)
}

func printJSON(w io.Writer, prefix string, v interface{}) error {
	m, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s%s\n", prefix, strings.TrimSpace(string(m)))
	return nil
}
