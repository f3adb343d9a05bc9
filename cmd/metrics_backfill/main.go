package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/brandbeacon/beacon-workflows/internal/config"
	"github.com/brandbeacon/beacon-workflows/internal/database"
	"github.com/brandbeacon/beacon-workflows/services"
)

// One-off repair tool: recompute metrics for COMPLETED runs. Feed it explicit
// run ids (-ids file) or let it scan for completed runs missing the aggregate
// metric row (-days lookback). The metrics engine is idempotent, so running
// this against already-healthy runs is harmless.

type backfillJob struct {
	RunID     uuid.UUID
	CompanyID uuid.UUID
}

type backfillResult struct {
	Job backfillJob
	Err error
}

func main() {
	idsPath := flag.String("ids", "", "path to a file of report run ids, one per line")
	days := flag.Int("days", 7, "lookback window in days when scanning for runs missing metrics")
	workers := flag.Int("workers", 4, "concurrent recomputations")
	dryRun := flag.Bool("dry-run", false, "list affected runs without recomputing")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment variables")
	}
	cfg := config.Load()

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repos := services.NewRepositoryManager(db)
	metricsService := services.NewMetricsService(repos)

	jobs, err := collectJobs(ctx, repos, *idsPath, *days)
	if err != nil {
		log.Fatalf("Failed to collect runs: %v", err)
	}
	log.Printf("Found %d runs to recompute", len(jobs))
	if len(jobs) == 0 {
		return
	}

	if *dryRun {
		for _, job := range jobs {
			fmt.Printf("%s (company %s)\n", job.RunID, job.CompanyID)
		}
		return
	}

	jobsCh := make(chan backfillJob)
	resultsCh := make(chan backfillResult)

	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsCh {
				err := metricsService.ComputeAndPersistMetrics(ctx, job.RunID, job.CompanyID)
				resultsCh <- backfillResult{Job: job, Err: err}
			}
		}()
	}

	go func() {
		for _, job := range jobs {
			jobsCh <- job
		}
		close(jobsCh)
		wg.Wait()
		close(resultsCh)
	}()

	succeeded, failed := 0, 0
	for result := range resultsCh {
		if result.Err != nil {
			failed++
			log.Printf("FAILED run %s: %v", result.Job.RunID, result.Err)
			continue
		}
		succeeded++
		log.Printf("Recomputed metrics for run %s", result.Job.RunID)
	}
	log.Printf("Backfill complete: %d succeeded, %d failed", succeeded, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func collectJobs(ctx context.Context, repos *services.RepositoryManager, idsPath string, days int) ([]backfillJob, error) {
	if idsPath != "" {
		ids, err := readIDs(idsPath)
		if err != nil {
			return nil, err
		}
		var jobs []backfillJob
		for _, raw := range ids {
			runID, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid run id %q: %w", raw, err)
			}
			run, err := repos.ReportRunRepo.GetByID(ctx, runID)
			if err != nil {
				return nil, err
			}
			if run == nil {
				log.Printf("Skipping unknown run %s", runID)
				continue
			}
			jobs = append(jobs, backfillJob{RunID: run.ReportRunID, CompanyID: run.CompanyID})
		}
		return jobs, nil
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	runs, err := repos.ReportRunRepo.ListCompletedMissingMetrics(ctx, since)
	if err != nil {
		return nil, err
	}
	jobs := make([]backfillJob, 0, len(runs))
	for _, run := range runs {
		jobs = append(jobs, backfillJob{RunID: run.ReportRunID, CompanyID: run.CompanyID})
	}
	return jobs, nil
}

func readIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
