package main

import (
	"context"
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/cercatrack/railfusion/app/train-tracker/tracker"
	"github.com/cercatrack/railfusion/business/data/schedule"
	"github.com/cercatrack/railfusion/business/data/static"
	"github.com/cercatrack/railfusion/business/fusion"
	"github.com/cercatrack/railfusion/business/platforms"
	"github.com/cercatrack/railfusion/business/realtime/tripupdates"
	"github.com/cercatrack/railfusion/business/realtime/vehicles"
	"github.com/cercatrack/railfusion/foundation/httpclient"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "TRACKER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args conf.Args
		Web  struct {
			Port int `conf:"default:8100"`
		}
		GTFS struct {
			StaticDir       string `conf:"default:./data/gtfs"`
			DerivedDir      string `conf:"default:./data/derived"`
			SniffDelimiters bool   `conf:"default:true"`
			Timezone        string `conf:"default:Europe/Madrid"`
		}
		Feeds struct {
			VehiclePositionsUrl string `conf:"required"`
			TripUpdatesUrl      string `conf:"default:"`
			PollEverySeconds    int    `conf:"default:8"`
			FetchTimeoutSeconds int    `conf:"default:10"`
			Retries             int    `conf:"default:2"`
			RetryDelayMs        int    `conf:"default:400"`
		}
		Habits struct {
			Path          string `conf:"default:./data/platform_habits.json"`
			BlacklistPath string `conf:"default:"`
		}
		NATS struct {
			Enabled bool   `conf:"default:false"`
			Url     string `conf:"default:nats://127.0.0.1:4222"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Fuse gtfs-realtime feeds with the static timetable into live train views"
	const prefix = "TRACKER"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	// =========================================================================
	// Load static data

	loc, err := time.LoadLocation(cfg.GTFS.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", cfg.GTFS.Timezone, err)
	}

	repo, err := static.Load(cfg.GTFS.DerivedDir)
	if err != nil {
		return fmt.Errorf("loading derived route data from %s: %w", cfg.GTFS.DerivedDir, err)
	}
	log.Printf("main: loaded %d directed routes across %d nuclei", len(repo.ListRoutes()), len(repo.ListNuclei()))

	gtfs, err := schedule.LoadGTFS(log, cfg.GTFS.StaticDir, cfg.GTFS.SniffDelimiters)
	if err != nil {
		return fmt.Errorf("loading gtfs from %s: %w", cfg.GTFS.StaticDir, err)
	}
	materializer := schedule.NewMaterializer(log, gtfs, repo, loc)
	shapeIndex := gtfs.ShapesIndex()

	// =========================================================================
	// Platform habit store

	habits := platforms.NewStore(log, cfg.Habits.Path)
	if cfg.Habits.BlacklistPath != "" {
		if err := habits.LoadBlacklist(cfg.Habits.BlacklistPath); err != nil {
			return fmt.Errorf("loading platform blacklist from %s: %w", cfg.Habits.BlacklistPath, err)
		}
	}

	// =========================================================================
	// Realtime caches and pollers

	vehicleCache := vehicles.NewCache(log, repo, gtfs)
	updateCache := tripupdates.NewCache(log, repo, gtfs, vehicleCache)
	engine := fusion.NewEngine(log, repo, shapeIndex, materializer, vehicleCache, updateCache, habits)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := httpclient.NewClient(
		time.Duration(cfg.Feeds.FetchTimeoutSeconds)*time.Second,
		cfg.Feeds.Retries,
		time.Duration(cfg.Feeds.RetryDelayMs)*time.Millisecond)
	pollEvery := time.Duration(cfg.Feeds.PollEverySeconds) * time.Second

	go vehicleCache.RunPollLoop(ctx, client, cfg.Feeds.VehiclePositionsUrl, pollEvery)
	if cfg.Feeds.TripUpdatesUrl != "" {
		go updateCache.RunPollLoop(ctx, client, cfg.Feeds.TripUpdatesUrl, pollEvery)
	} else {
		log.Println("main: no trip updates url configured, running on vehicle positions only")
	}

	// =========================================================================
	// View publishing

	var publisher *fusion.ViewPublisher
	if cfg.NATS.Enabled {
		publisher, err = fusion.NewViewPublisher(log, cfg.NATS.Url)
		if err != nil {
			return fmt.Errorf("starting view publisher: %w", err)
		}
		defer publisher.Close()
	}
	go tracker.RunViewPublishLoop(ctx, log, engine, vehicleCache, habits, publisher, pollEvery)

	// =========================================================================
	// Web service

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	webShutdown := make(chan bool)
	wg := sync.WaitGroup{}
	go tracker.RunWebService(log, &wg, repo, engine, vehicleCache, updateCache, cfg.Web.Port, webShutdown)

	sig := <-shutdown
	log.Printf("main: shutdown on signal %v", sig)
	cancel()
	close(webShutdown)
	wg.Wait()
	return nil
}
