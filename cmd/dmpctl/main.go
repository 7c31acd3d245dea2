// Command dmpctl runs one or more dmp cycles against concrete collaborators:
// an in-memory/CSV datasource, filesystem or in-memory sinks, and a stub LLM
// client. It is a thin shell over pkg/suite — flag parsing, configuration
// loading, and wiring only; it is explicitly not the focus of testing depth.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/tarsy-labs/dmp/pkg/artifact"
	"github.com/tarsy-labs/dmp/pkg/artifact/sink"
	"github.com/tarsy-labs/dmp/pkg/config"
	"github.com/tarsy-labs/dmp/pkg/suite"
	"github.com/tarsy-labs/dmp/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	defaultsFile := flag.String("defaults", "defaults.yaml", "Defaults YAML file, relative to -config-dir")
	packFile := flag.String("pack", "", "Optional pack YAML file, relative to -config-dir")
	cycles := flag.String("cycles", "default", "Comma-separated cycle names to run")
	mode := flag.String("mode", "standard", "Run mode: standard or experimental")
	outputDir := flag.String("output-dir", "./data", "Directory for the default file sink's fallback output")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	log.Printf("Starting %s", version.Full())

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	defaultsSrc, err := config.LoadSource("defaults", 0, filepath.Join(*configDir, *defaultsFile))
	if err != nil {
		log.Fatalf("loading defaults config: %v", err)
	}

	var packData map[string]any
	if *packFile != "" {
		packSrc, err := config.LoadSource("pack", 1, filepath.Join(*configDir, *packFile))
		if err != nil {
			log.Fatalf("loading pack config: %v", err)
		}
		packData = packSrc.Data
	}

	cycleNames := strings.Split(*cycles, ",")
	cycleEntries := make([]suite.CycleEntry, 0, len(cycleNames))
	for _, name := range cycleNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cycleEntries = append(cycleEntries, suite.CycleEntry{Name: name})
	}
	if len(cycleEntries) == 0 {
		log.Fatalf("no cycle names given via -cycles")
	}

	orchestrator := suite.NewOrchestrator(buildRegistries())
	orchestrator.SetDefaultSink(func() (artifact.Sink, error) {
		return sink.NewFile(filepath.Join(*outputDir, "result.json"), "output"), nil
	})

	suiteCfg := suite.SuiteConfig{
		Defaults: defaultsSrc.Data,
		Pack:     packData,
		Cycles:   cycleEntries,
	}

	ctx := context.Background()
	shutdownTelemetry, err := setupTelemetry(ctx)
	if err != nil {
		log.Fatalf("setting up telemetry: %v", err)
	}
	defer func() {
		if err := shutdownTelemetry(ctx); err != nil {
			log.Printf("Warning: telemetry shutdown: %v", err)
		}
	}()

	switch *mode {
	case "standard":
		results, err := orchestrator.RunStandard(ctx, suiteCfg)
		if err != nil {
			log.Fatalf("running suite: %v", err)
		}
		for name, payload := range results {
			slog.Info("cycle complete", "cycle", name, "rows", len(payload.Results), "failures", len(payload.Failures))
		}
	case "experimental":
		result, err := orchestrator.RunExperimental(ctx, suiteCfg)
		if err != nil {
			log.Fatalf("running suite: %v", err)
		}
		slog.Info("experimental suite complete", "baseline", result.Baseline)
		for name, payload := range result.Results {
			slog.Info("cycle complete", "cycle", name, "rows", len(payload.Results), "failures", len(payload.Failures))
		}
	default:
		log.Fatalf("unknown mode %q: expected standard or experimental", *mode)
	}

	fmt.Println("done")
}
