package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"time"

	"github.com/kpaschen/disttsvd/lib/auth"
	"github.com/kpaschen/disttsvd/lib/decomposition"
	"github.com/kpaschen/disttsvd/lib/engine"
	"github.com/kpaschen/disttsvd/lib/logging"
	"github.com/kpaschen/disttsvd/lib/reporter"
	"github.com/kpaschen/disttsvd/lib/settings"
	"github.com/kpaschen/disttsvd/lib/store"
	"github.com/kpaschen/disttsvd/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type config struct {
	serviceAddress string
	metricsAddress string
}

func main() {
	var configFile string
	var metricsAddr string
	var serviceAddr string
	var compareEngine string
	var workers int
	var kafkaURL string
	var parquetMaxRowsPerRowGroup int
	var resultsDirectory string
	var modelStorePath string
	var logFile string

	flag.StringVar(&configFile, "config", "", "A yaml file with settings. Flags override values from the file.")
	flag.StringVar(&metricsAddr, "metrics-address", ":9203", "The address the metrics endpoint binds to.")
	flag.StringVar(&serviceAddr, "listen-address", ":9201", "The address that the fit and remote write endpoints bind to.")
	flag.StringVar(&compareEngine, "engine", "", "The execution engine, inprocess or kafka.")
	flag.IntVar(&workers, "workers", 0, "Number of in-process workers.")
	flag.StringVar(&kafkaURL, "kafkaURL", "", "The URL for the kafka broker.")
	flag.IntVar(&parquetMaxRowsPerRowGroup, "parquetMaxRowsPerRowGroup", 0, "Number of rows per row group in Parquet. Small numbers reduce memory usage but cost more disk space; large numbers cost more memory but improve compression.")
	flag.StringVar(&resultsDirectory, "resultsDirectory", "", "The directory for parquet result files. Empty means no result files.")
	flag.StringVar(&modelStorePath, "modelStore", "", "Path of the sqlite model store. Empty keeps models in memory only.")
	flag.StringVar(&logFile, "logFile", "", "Also log to this file, with rotation.")

	flag.Parse()

	cfg := &config{
		serviceAddress: serviceAddr,
		metricsAddress: metricsAddr,
	}

	tsvdConfig, err := settings.LoadSettings(configFile)
	if err != nil {
		log.Fatal(err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "engine":
			tsvdConfig.Engine = compareEngine
		case "workers":
			tsvdConfig.Workers = workers
			tsvdConfig.Partitions = workers
		case "kafkaURL":
			tsvdConfig.KafkaURL = kafkaURL
		case "parquetMaxRowsPerRowGroup":
			tsvdConfig.MaxRowsPerRowGroup = int64(parquetMaxRowsPerRowGroup)
		case "resultsDirectory":
			tsvdConfig.ResultsDirectory = resultsDirectory
		case "modelStore":
			tsvdConfig.ModelStorePath = modelStorePath
		case "logFile":
			tsvdConfig.LogFile = logFile
		}
	})
	tsvdConfig = tsvdConfig.ComputeSettingsFields()
	if err = tsvdConfig.Validate(); err != nil {
		log.Fatal(err)
	}
	logging.SetVerbosity(tsvdConfig.Verbose)
	if tsvdConfig.LogFile != "" {
		closer := logging.ConfigureOutput(tsvdConfig.LogFile, 100, 5)
		defer closer.Close()
	}

	client, err := engine.New(tsvdConfig, decomposition.ModelFactory())
	if err != nil {
		log.Fatalf("failed to start %s engine: %v", tsvdConfig.Engine, err)
	}
	defer client.Shutdown()
	log.Printf("using engine %s with workers %v\n", tsvdConfig.Engine, client.Workers())

	var modelStore *store.Store
	if tsvdConfig.ModelStorePath != "" {
		modelStore, err = store.NewStore(tsvdConfig.ModelStorePath)
		if err != nil {
			log.Fatalf("failed to open model store: %v", err)
		}
		defer modelStore.Close()
	}

	svc := service.NewTsvdService(tsvdConfig, client, modelStore)
	if tsvdConfig.ResultsDirectory != "" {
		if err = os.MkdirAll(tsvdConfig.ResultsDirectory, 0750); err != nil {
			log.Fatalf("failed to create results directory: %v", err)
		}
		svc.Reporter = reporter.NewParquetReporter(tsvdConfig.ResultsDirectory, tsvdConfig.MaxRowsPerRowGroup)
	}

	var verifier *auth.Verifier
	if tsvdConfig.JWTSecret != "" {
		verifier, err = auth.NewVerifier(tsvdConfig.JWTSecret)
		if err != nil {
			log.Fatal(err)
		}
	} else {
		log.Printf("no jwt secret configured, requests are not authenticated\n")
	}

	http.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(cfg.metricsAddress, nil)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	server := &http.Server{
		Addr:    cfg.serviceAddress,
		Handler: svc.Router(auth.NewMiddleware(verifier)),
	}
	go func() {
		log.Printf("tsvd service listening on port %s\n", cfg.serviceAddress)
		if err := server.ListenAndServe(); err != nil {
			if err != http.ErrServerClosed {
				client.Shutdown()
				log.Fatal(err)
			}
		}
	}()

	<-stop
	log.Println("tsvd service shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Print(err)
	}
}
