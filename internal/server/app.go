// Package server wires the message log daemon together: the store, the
// timestamping job, the scheduled archiver and cleaner, and the admin
// HTTP endpoint.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/messagelog/internal/cryptox"
	"github.com/dmitrijs2005/messagelog/internal/digestlist"
	"github.com/dmitrijs2005/messagelog/internal/globalconf"
	"github.com/dmitrijs2005/messagelog/internal/logging"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/archiver"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/cleaner"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/encryption"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/logmanager"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/models"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/repositories/repomanager"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/timestamper"
	"github.com/dmitrijs2005/messagelog/internal/server/admin"
	"github.com/dmitrijs2005/messagelog/internal/server/config"
	"github.com/dmitrijs2005/messagelog/internal/tsp"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	conf     *globalconf.FileProvider
	manager  *logmanager.Manager
	archiver *archiver.Archiver
	cleaner  *cleaner.Cleaner
}

// NewApp opens the store, runs migrations and builds every component.
// Nothing is started until Run.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	method, err := digestlist.LookupMethod(c.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	ordering, err := digestlist.ParseOrdering(c.DigestOrdering)
	if err != nil {
		return nil, err
	}
	grouping, err := models.ParseGrouping(c.ArchiveGrouping)
	if err != nil {
		return nil, err
	}

	db, rm, err := repomanager.Open(ctx, c.DatabaseDriver, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migrations: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}
	app.conf = globalconf.NewFileProvider(ctx, c.GlobalConfPath, logger.With("module", "globalconf"))

	ts := timestamper.New(timestamper.Config{
		Method:   method,
		Ordering: ordering,
		URLs:     c.TSAURLs,
	}, tsp.NewHTTPClient(c.TSAConnectTimeout, c.TSAReadTimeout), app.conf, logger.With("module", "timestamper"))

	var managerOpts []logmanager.Option
	var archiverOpts []archiver.Option
	if c.MessageLogEncryptionEnabled {
		enc, err := encryption.New([]byte(c.MessageLogMasterKey), c.MessageLogKeyID)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("message log encryption: %w", err)
		}
		managerOpts = append(managerOpts, logmanager.WithEncryption(enc))
		archiverOpts = append(archiverOpts, archiver.WithRecordKey([]byte(c.MessageLogMasterKey)))
	}

	app.manager = logmanager.NewManager(db, rm, ts, logmanager.Config{
		RecordsLimit:            c.TimestampRecordsLimit,
		TimestampImmediately:    c.TimestampImmediately,
		AcceptableFailurePeriod: c.AcceptableTimestampFailurePeriod,
	}, logger.With("module", "logmanager"), managerOpts...)

	more, err := archiverOptions(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	archiverOpts = append(archiverOpts, more...)

	app.archiver = archiver.New(db, rm, archiver.Config{
		Path:         c.ArchivePath,
		MaxFileSize:  c.ArchiveMaxFilesize,
		Grouping:     grouping,
		BatchSize:    c.ArchiveTransactionBatchSize,
		Method:       method,
		Encrypt:      c.ArchiveEncryptionEnabled,
		DefaultKeyID: c.ArchiveDefaultKeyID,
		GroupKeys:    c.ArchiveGroupKeys,
	}, logger.With("module", "archiver"), archiverOpts...)

	app.cleaner = cleaner.New(db, rm, cleaner.Config{
		KeepRecordsFor: c.KeepRecordsFor,
		BatchSize:      c.CleanTransactionBatchSize,
	}, logger.With("module", "cleaner"))

	return app, nil
}

func archiverOptions(ctx context.Context, c *config.Config) ([]archiver.Option, error) {
	var opts []archiver.Option
	if c.ArchiveEncryptionEnabled {
		ring, err := cryptox.ReadKeyRing(c.ArchiveKeyringPath)
		if err != nil {
			return nil, fmt.Errorf("archive keyring: %w", err)
		}
		opts = append(opts, archiver.WithKeyRing(ring))
	}
	if c.ArchiveTransferCommand != "" {
		opts = append(opts, archiver.WithTransfer(archiver.CommandTransfer{Command: c.ArchiveTransferCommand}))
	}
	if c.S3Bucket != "" {
		s3t, err := archiver.NewS3Transfer(ctx, archiver.S3Config{
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			RootUser:     c.S3RootUser,
			RootPassword: c.S3RootPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 transfer: %w", err)
		}
		opts = append(opts, archiver.WithTransfer(s3t))
	}
	return opts, nil
}

// Manager is the in-process entry point used by the gateway to log
// messages.
func (app *App) Manager() *logmanager.Manager {
	return app.manager
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) scheduler(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := c.AddFunc(app.config.ArchiveInterval, func() { app.runArchiver(ctx) }); err != nil {
		return nil, fmt.Errorf("archive interval %q: %w", app.config.ArchiveInterval, err)
	}
	if _, err := c.AddFunc(app.config.CleanInterval, func() { app.runCleaner(ctx) }); err != nil {
		return nil, fmt.Errorf("clean interval %q: %w", app.config.CleanInterval, err)
	}
	return c, nil
}

func (app *App) runArchiver(ctx context.Context) {
	res, err := app.archiver.Execute(ctx)
	if err != nil {
		app.logger.Error(ctx, "archiving failed", "error", err)
		return
	}
	app.logger.Info(ctx, "archiving finished", "records", res.Records, "files", len(res.Files), "timestamp_records", res.TimestampRecords)
}

func (app *App) runCleaner(ctx context.Context) {
	res, err := app.cleaner.Execute(ctx)
	if err != nil {
		var deleted int64
		if res != nil {
			deleted = res.Deleted
		}
		app.logger.Error(ctx, "cleanup failed", "error", err, "deleted", deleted)
		return
	}
	app.logger.Info(ctx, "cleanup finished", "deleted", res.Deleted, "batches", len(res.Batches))
}

// Run starts every background component and blocks until ctx is
// cancelled, a termination signal arrives or a component fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.db.Close()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	sched, err := app.scheduler(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.conf.Run(ctx, app.config.GlobalConfReloadInterval)
	})
	g.Go(func() error {
		return app.manager.RunJob(ctx, app.conf, app.config.TimestampRetryDelay)
	})
	g.Go(func() error {
		return admin.NewServer(app.config.AdminAddr, app.logger, app.manager, app.config.AdminSecretKey).Run(ctx)
	})
	g.Go(func() error {
		sched.Start()
		<-ctx.Done()
		<-sched.Stop().Done()
		return nil
	})

	err = g.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return err
}
