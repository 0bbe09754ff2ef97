package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/claimscope/analyzer/internal/classifier"
	"github.com/claimscope/analyzer/internal/config"
	"github.com/claimscope/analyzer/internal/database"
	"github.com/claimscope/analyzer/internal/models"
	"github.com/claimscope/analyzer/internal/repository"
	"github.com/claimscope/analyzer/internal/scraper"
	"github.com/claimscope/analyzer/internal/store"
	"github.com/claimscope/analyzer/pkg/utils"
)

const sourceIngest = "ingest"

// urlList collects a repeatable -url flag.
type urlList []string

func (l *urlList) String() string { return strings.Join(*l, ",") }

func (l *urlList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// Command line flags
var (
	urls     urlList
	files    = flag.String("file", "", "Comma separated local files; .html files are parsed, others are read one claim per line")
	category = flag.String("category", "", "Product category (hair, face, body, oral)")
	selector = flag.String("selector", "", "CSS selector of the claim block")
	dryRun   = flag.Bool("dry-run", false, "Classify only, don't write history records")
	verbose  = flag.Bool("verbose", false, "Enable verbose logging")
	delay    = flag.Duration("delay", 2*time.Second, "Delay between page requests")
)

// ClaimIngester classifies claims from pages and files against the shared
// learned state.
type ClaimIngester struct {
	extractor   *scraper.ClaimExtractor
	classifier  *classifier.Classifier
	state       *models.LearningState
	repoManager *repository.RepositoryManager
	contributor string
	out         *json.Encoder
	logger      *logrus.Logger
	processed   int
	errors      []error
}

func main() {
	flag.Var(&urls, "url", "Product page to ingest (repeatable)")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	logger := utils.GetLogger()
	logger.SetOutput(os.Stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if len(urls) == 0 && *files == "" {
		logger.Fatal("Nothing to ingest: pass -url or -file")
	}
	if _, ok := classifier.Categories()[*category]; *category != "" && !ok {
		logger.WithField("category", *category).Fatal("Unknown category")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if !*verbose {
		utils.SetLevel(logger, cfg.LogLevel)
	}

	dbURL := ""
	if !*dryRun {
		dbURL = cfg.Database.URL
	}
	dbManager, err := database.NewManager(&database.Config{
		DatabaseURL: dbURL,
		RedisURL:    cfg.Redis.URL,
		LogLevel:    cfg.LogLevel,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database manager")
	}
	defer dbManager.Close()

	var repoManager *repository.RepositoryManager
	if dbManager.DB != nil {
		if err := dbManager.Migrate(); err != nil {
			logger.WithError(err).Fatal("Failed to migrate history tables")
		}
		repoManager = repository.NewRepositoryManager(dbManager.DB)
	}

	ctx := context.Background()
	state := loadState(ctx, cfg, dbManager, logger)

	contributor := cfg.Contributor.ID
	if contributor == "" {
		contributor = utils.GenerateContributorID()
	}

	extractor := scraper.NewClaimExtractor(scraper.ExtractorOptions{
		UserAgent:      cfg.Scraper.UserAgent,
		Timeout:        cfg.Scraper.Timeout,
		AllowedDomains: cfg.Scraper.AllowedDomains,
		Delay:          *delay,
	}, logger)

	ingester := NewClaimIngester(extractor, state, repoManager, contributor, os.Stdout, logger)
	if err := ingester.Run(ctx, urls, splitFiles(*files)); err != nil {
		logger.WithError(err).Fatal("Ingestion failed")
	}
}

// loadState reads the learned dictionary from the configured store. The
// base dictionary alone is used when nothing can be loaded.
func loadState(ctx context.Context, cfg *config.Config, dbManager *database.Manager, logger *logrus.Logger) *models.LearningState {
	backend, err := store.Open(cfg, dbManager.Redis, logger)
	if err != nil {
		logger.WithError(err).Warn("Learning store unavailable, using base dictionary only")
		return nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	state, err := backend.Load(loadCtx)
	if err != nil {
		logger.WithError(err).WithField("store", backend.Name()).Warn("Failed to load learning state, using base dictionary only")
		return nil
	}
	logger.WithField("store", backend.Name()).Info("Learning state loaded")
	return state
}

func splitFiles(v string) []string {
	var out []string
	for _, f := range strings.Split(v, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func NewClaimIngester(extractor *scraper.ClaimExtractor, state *models.LearningState, repoManager *repository.RepositoryManager, contributor string, out io.Writer, logger *logrus.Logger) *ClaimIngester {
	return &ClaimIngester{
		extractor:   extractor,
		classifier:  classifier.New(logger),
		state:       state,
		repoManager: repoManager,
		contributor: contributor,
		out:         json.NewEncoder(out),
		logger:      logger,
	}
}

// Run ingests every page and file. Failing sources are logged and
// skipped; Run only fails when nothing could be ingested.
func (ci *ClaimIngester) Run(ctx context.Context, pages, paths []string) error {
	total := len(pages) + len(paths)
	ci.logger.WithField("sources", total).Info("Starting claim ingestion")

	for i, page := range pages {
		ci.logger.WithFields(logrus.Fields{
			"url":      page,
			"progress": fmt.Sprintf("%d/%d", i+1, total),
		}).Info("Processing page")

		claims, err := ci.extractor.Extract(ctx, page, *selector)
		ci.handle(page, claims, err)

		if i < len(pages)-1 && *delay > 0 {
			time.Sleep(*delay)
		}
	}

	for _, path := range paths {
		claims, err := ci.readFile(path)
		ci.handle(path, claims, err)
	}

	ci.logger.WithFields(logrus.Fields{
		"claims": ci.processed,
		"errors": len(ci.errors),
	}).Info("Claim ingestion completed")

	for _, err := range ci.errors {
		ci.logger.WithError(err).Warn("Processing error")
	}
	if ci.processed == 0 && len(ci.errors) > 0 {
		return fmt.Errorf("no claims ingested from %d sources", total)
	}
	return nil
}

func (ci *ClaimIngester) readFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return ci.extractor.ExtractHTML(f, *selector)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return classifier.SplitLines(string(data)), nil
}

func (ci *ClaimIngester) handle(source string, claims []string, err error) {
	if err != nil {
		ci.errors = append(ci.errors, fmt.Errorf("failed to process %s: %w", source, err))
		return
	}

	for _, claim := range claims {
		result := ci.classifier.Classify(claim, *category, ci.state)
		if err := ci.out.Encode(result); err != nil {
			ci.errors = append(ci.errors, fmt.Errorf("failed to write result: %w", err))
			return
		}
		ci.processed++

		if *dryRun || ci.repoManager == nil {
			continue
		}
		record := models.NewAnalysisRecord(result, ci.contributor, sourceIngest)
		if err := ci.repoManager.AnalysisRecords.Create(record); err != nil {
			ci.logger.WithError(err).WithField("result_id", result.ID).Warn("Failed to record analysis")
		}
	}

	ci.logger.WithFields(logrus.Fields{
		"source": source,
		"claims": len(claims),
	}).Debug("Source processed")
}
