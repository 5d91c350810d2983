package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"time"

	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/decomposition"
	"github.com/kpaschen/disttsvd/lib/engine"
	"github.com/kpaschen/disttsvd/lib/loader"
	"github.com/kpaschen/disttsvd/lib/reporter"
	"github.com/kpaschen/disttsvd/lib/settings"
	"gonum.org/v1/gonum/mat"
)

func main() {
	filename := flag.String("filename", "", "Name of the file to read")
	nComponents := flag.Int("nComponents", 2, "How many components to keep")
	partitions := flag.Int("partitions", 2, "How many partitions to split the input into")
	workers := flag.Int("workers", 2, "How many in-process workers to run")
	dtype := flag.String("dtype", settings.DTYPE_FLOAT64, "Output precision, float64 or float32")
	verbose := flag.Bool("verbose", false, "Log debug output")
	resultsDirectory := flag.String("resultsDirectory", "", "Write parquet results here instead of printing them")
	csvOutput := flag.Bool("csv", false, "Write csv instead of parquet results")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile here")
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			panic(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	rows, err := loader.ReadMatrix(*filename)
	if err != nil {
		log.Fatal(err)
	}
	X, err := datatypes.FromRows(rows, *partitions, *dtype)
	if err != nil {
		log.Fatal(err)
	}

	client, err := engine.New(settings.TsvdSettings{Workers: *workers}.ComputeSettingsFields(),
		decomposition.ModelFactory())
	if err != nil {
		log.Fatal(err)
	}
	defer client.Shutdown()

	tsvd, err := decomposition.NewTruncatedSVD(client,
		settings.NewParam(settings.PARAM_N_COMPONENTS, *nComponents),
		settings.NewParam(settings.PARAM_VERBOSE, *verbose),
		settings.NewParam(settings.PARAM_OUTPUT_TYPE, *dtype))
	if err != nil {
		log.Fatal(err)
	}
	out, err := tsvd.FitTransform(context.Background(), X)
	if err != nil {
		log.Fatalf("caught error: %v", err)
	}
	snap, err := tsvd.Snapshot()
	if err != nil {
		log.Fatal(err)
	}

	if *resultsDirectory == "" {
		fmt.Printf("singular values: %v\n", snap.SingularValues)
		fmt.Printf("explained variance: %v\n", snap.ExplainedVariance)
		fmt.Printf("explained variance ratio: %v\n", snap.ExplainedVarianceRatio)
		transformed, err := out.Compute()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("transformed:\n%v\n", mat.Formatted(transformed))
		return
	}

	var rep reporter.Reporter
	if *csvOutput {
		rep = reporter.NewCsvReporter(*resultsDirectory)
	} else {
		rep = reporter.NewParquetReporter(*resultsDirectory, settings.Defaults().MaxRowsPerRowGroup)
	}
	if err = rep.Initialize("cli", time.Now()); err != nil {
		log.Fatal(err)
	}
	if err = rep.AddTransformed(out); err != nil {
		log.Fatal(err)
	}
	if err = rep.AddModel(snap); err != nil {
		log.Fatal(err)
	}
	if err = rep.Flush(); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote results for %d rows to %s\n", out.Rows(), *resultsDirectory)
}
