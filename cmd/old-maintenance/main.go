package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/dativebase/old/pkg/config"
	"github.com/dativebase/old/pkg/corpus"
	"github.com/dativebase/old/pkg/layout"
	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/observability"
	"github.com/dativebase/old/pkg/storage"
	"github.com/dativebase/old/pkg/toolkit"
)

// old-maintenance runs the periodic housekeeping jobs: the morpheme
// cross-reference rebuild and the corpus file refresh. Lexical edits
// propagate to referencing forms at write time; the rebuild repairs any
// drift left behind by crashes or bulk imports. The refresh keeps written
// corpus files in step with search-defined membership.

const formBatchSize = 200

var (
	schedule       = flag.String("schedule", "", "Cron schedule for the rebuild (overrides OLD_MORPHEME_REBUILD_SCHEDULE)")
	corpusSchedule = flag.String("corpus-refresh-schedule", "0 4 * * *", "Cron schedule for the corpus file refresh")
	runOnce        = flag.Bool("run-once", false, "Run each job once and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	store, err := storage.Open(cfg.Storage, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to open database")
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The corpus engine logs through logrus; keep both streams JSON on
	// stdout.
	engineLog := logrus.New()
	engineLog.SetFormatter(&logrus.JSONFormatter{})
	corpora := corpus.NewEngine(store, layout.New(cfg.App.StoreRoot),
		toolkit.NewTGrep2(toolkit.NewRunner(engineLog)), engineLog)

	if *runOnce {
		if err := rebuildMorphemeReferences(ctx, store, logger); err != nil {
			logger.WithError(err).Error("Rebuild failed")
			os.Exit(1)
		}
		if err := refreshCorpusFiles(ctx, store, corpora, logger); err != nil {
			logger.WithError(err).Error("Corpus file refresh failed")
			os.Exit(1)
		}
		return
	}

	spec := *schedule
	if spec == "" {
		spec = cfg.App.MorphemeReferenceRebuildSchedule
	}
	if spec == "" {
		spec = "30 3 * * *"
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if err := rebuildMorphemeReferences(ctx, store, logger); err != nil {
			logger.WithError(err).Error("Scheduled rebuild failed")
		}
	}); err != nil {
		logger.WithError(err).Errorf("Invalid cron schedule %q", spec)
		os.Exit(1)
	}
	if _, err := c.AddFunc(*corpusSchedule, func() {
		if err := refreshCorpusFiles(ctx, store, corpora, logger); err != nil {
			logger.WithError(err).Error("Scheduled corpus file refresh failed")
		}
	}); err != nil {
		logger.WithError(err).Errorf("Invalid cron schedule %q", *corpusSchedule)
		os.Exit(1)
	}
	c.Start()
	logger.Infof("Morpheme reference rebuild scheduled: %s", spec)
	logger.Infof("Corpus file refresh scheduled: %s", *corpusSchedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Infof("Received signal %s, shutting down", sig)

	cancel()
	<-c.Stop().Done()
}

// rebuildMorphemeReferences recomputes the break/gloss id vectors of every
// form against the current lexicon and delimiter inventory.
func rebuildMorphemeReferences(ctx context.Context, store *storage.Store, logger *observability.Logger) error {
	delimiters := model.DefaultMorphemeDelimiters
	if as, err := store.ApplicationSettings(ctx); err == nil {
		delimiters = as.Delimiters()
	} else {
		logger.WithError(err).Warn("Falling back to default morpheme delimiters")
	}

	ids, err := store.AllFormIDs(ctx)
	if err != nil {
		return err
	}
	logger.Infof("Rebuilding morpheme references for %d forms", len(ids))

	var updated, failed int
	for start := 0; start < len(ids); start += formBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + formBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		forms, err := store.FormsByIDs(ctx, ids[start:end], false)
		if err != nil {
			return err
		}
		for i := range forms {
			f := &forms[i]
			if err := store.ComputeMorphemeReferences(ctx, f, delimiters); err != nil {
				logger.WithError(err).WithField("form_id", f.ID).
					Warn("Failed to compute morpheme references")
				failed++
				continue
			}
			if err := store.PersistMorphemeReferences(ctx, f); err != nil {
				logger.WithError(err).WithField("form_id", f.ID).
					Warn("Failed to persist morpheme references")
				failed++
				continue
			}
			updated++
		}
	}
	logger.WithFields(map[string]interface{}{
		"updated": updated,
		"failed":  failed,
	}).Info("Morpheme reference rebuild complete")
	return nil
}

// refreshCorpusFiles re-syncs every corpus's membership and rewrites the
// files it has previously written, so served artifacts track search-defined
// membership.
func refreshCorpusFiles(ctx context.Context, store *storage.Store, corpora *corpus.Engine, logger *observability.Logger) error {
	all, _, err := store.ListCorpora(ctx, 0, 0)
	if err != nil {
		return err
	}
	var rewritten int
	for i := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := store.GetCorpus(ctx, all[i].ID)
		if err != nil {
			logger.WithError(err).WithField("corpus_id", all[i].ID).
				Warn("Failed to load corpus")
			continue
		}
		if _, err := corpora.Sync(ctx, c); err != nil {
			logger.WithError(err).WithField("corpus_id", c.ID).
				Warn("Failed to sync corpus membership")
			continue
		}
		for _, cf := range c.Files {
			if _, err := corpora.WriteToFile(ctx, c, cf.Format, cf.Creator); err != nil {
				logger.WithError(err).WithFields(map[string]interface{}{
					"corpus_id": c.ID,
					"format":    cf.Format,
				}).Warn("Failed to rewrite corpus file")
				continue
			}
			rewritten++
		}
	}
	logger.WithField("rewritten", rewritten).Info("Corpus file refresh complete")
	return nil
}
