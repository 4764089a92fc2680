// Command jobrunner is the one-shot batch entry point: each invocation
// runs exactly one named job to completion against the portal/docstore/
// mega-carpool databases and exits, grounded on the teacher's
// cmd/verify-tables one-shot bootstrapping style.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/metropia/maas-core/internal/carpool"
	"github.com/metropia/maas-core/internal/clock"
	"github.com/metropia/maas-core/internal/config"
	"github.com/metropia/maas-core/internal/docstore"
	"github.com/metropia/maas-core/internal/megacarpool"
	"github.com/metropia/maas-core/internal/megadb"
	"github.com/metropia/maas-core/internal/microsurvey"
	"github.com/metropia/maas-core/internal/store"
	"github.com/metropia/maas-core/internal/trajectory"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, continuing with process environment")
	}
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("MAAS_CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := store.Open(cfg.Database.PortalDSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("open portal db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	switch os.Args[1] {
	case "trajectory-validate":
		runTrajectoryValidate(ctx, cfg, db, os.Args[2:])
	case "carpool-relink":
		runCarpoolRelink(ctx, cfg, db, os.Args[2:])
	case "microsurvey-trigger":
		runMicrosurveyTrigger(ctx, cfg, db, os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown job: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`maas-jobrunner — one-shot batch jobs

Usage: jobrunner <job> [flags]

Jobs:
  trajectory-validate   run the prior-day DuoTrip trajectory validation batch
  carpool-relink        recompute carpool invitations/matches for one group
  microsurvey-trigger   start a microsurvey for a list of user ids
  help                  show this help`)
}

func runTrajectoryValidate(ctx context.Context, cfg *config.Config, db *store.DB, args []string) {
	fs := flag.NewFlagSet("trajectory-validate", flag.ExitOnError)
	windowHours := fs.Int("window-hours", 24, "size of the validation window ending now, in hours")
	fs.Parse(args)

	docs, err := docstore.NewClient(cfg.Database.DocstoreURL, cfg.Database.DocstoreKey)
	if err != nil {
		log.Fatalf("open docstore: %v", err)
	}
	validator := trajectory.NewValidator(docs, db, trajectory.Config{
		SlotSeconds:        cfg.Trajectory.SlotSeconds,
		ProximityMeters:    cfg.Trajectory.ProximityMeters,
		EarlyStopScore:     cfg.Trajectory.EarlyStopScore,
		PassScoreThreshold: cfg.Trajectory.PassScoreThreshold,
	}, slog.Default().With("component", "trajectory"))

	end := clock.Real{}.Now()
	start := end.Add(-time.Duration(*windowHours) * time.Hour)

	processed, err := validator.BlockValidationJob(ctx, start, end)
	if err != nil {
		log.Fatalf("trajectory-validate: %v", err)
	}
	fmt.Printf("trajectory-validate: processed %d driver trips in window [%s, %s]\n", processed, start.Format(time.RFC3339), end.Format(time.RFC3339))
}

func runCarpoolRelink(ctx context.Context, cfg *config.Config, db *store.DB, args []string) {
	fs := flag.NewFlagSet("carpool-relink", flag.ExitOnError)
	groupID := fs.Int64("group", 0, "group id whose relations should be recomputed")
	userID := fs.Int64("user", 0, "user id that changed membership (0 = whole-group teardown)")
	fs.Parse(args)

	if *groupID == 0 {
		log.Fatal("carpool-relink: --group is required")
	}

	var mega *megadb.Store
	if cfg.Megacarpool.SpannerProject != "" {
		m, err := megadb.Open(ctx, cfg.Megacarpool.SpannerProject, cfg.Megacarpool.SpannerInstance, cfg.Megacarpool.SpannerDatabase)
		if err != nil {
			slog.Warn("carpool-relink: mega-carpool spanner unavailable, degrading to primary-only", "err", err)
		} else {
			mega = m
			defer mega.Close()
		}
	}

	resolver := megacarpool.NewResolver(db, mega, slog.Default().With("component", "megacarpool"))
	manager := carpool.NewRelationManager(db, resolver, clock.Real{}, slog.Default().With("component", "carpool"))

	var changedUserID *int64
	if *userID != 0 {
		changedUserID = userID
	}
	if err := manager.ProcessGroupChange(ctx, *groupID, changedUserID); err != nil {
		log.Fatalf("carpool-relink: %v", err)
	}
	fmt.Printf("carpool-relink: recomputed relations for group %d\n", *groupID)
}

func runMicrosurveyTrigger(ctx context.Context, cfg *config.Config, db *store.DB, args []string) {
	fs := flag.NewFlagSet("microsurvey-trigger", flag.ExitOnError)
	surveyID := fs.String("survey", "", "survey id to start")
	userCSV := fs.String("users", "", "comma-separated user ids to invite")
	limit := fs.Int("limit", 0, "maximum number of users to start (0 = no limit)")
	throttle := fs.Duration("throttle", 200*time.Millisecond, "delay between per-user dispatches")
	fs.Parse(args)

	if *surveyID == "" || *userCSV == "" {
		log.Fatal("microsurvey-trigger: --survey and --users are required")
	}
	userIDs, err := parseInt64CSV(*userCSV)
	if err != nil {
		log.Fatalf("microsurvey-trigger: %v", err)
	}

	scheduler, err := microsurvey.NewCloudTasksScheduler(ctx, cfg.Microsurvey.CloudTasksProject, cfg.Microsurvey.CloudTasksLocation, cfg.Microsurvey.CloudTasksQueue, os.Getenv("MICROSURVEY_PUSH_TARGET_URL"))
	if err != nil {
		log.Fatalf("open cloud tasks scheduler: %v", err)
	}
	defer scheduler.Close()

	orchestrator := microsurvey.NewOrchestrator(db, scheduler, nil, clock.Real{}, microsurvey.Config{
		MaxLiveActors:    cfg.Microsurvey.MaxLiveActors,
		DefaultTimezone:  cfg.Microsurvey.DefaultTimezone,
		QuietWindowStart: cfg.Microsurvey.QuietWindowStart,
		QuietWindowEnd:   cfg.Microsurvey.QuietWindowEnd,
		NumQuestions:     cfg.Microsurvey.NumQuestions,
		RewardPoints:     float64(cfg.Microsurvey.RewardPoints),
	}, slog.Default().With("component", "microsurvey"))

	started, err := orchestrator.TriggerMicrosurvey(ctx, userIDs, *surveyID, *limit, *throttle)
	if err != nil {
		log.Fatalf("microsurvey-trigger: %v", err)
	}
	fmt.Printf("microsurvey-trigger: started survey %q for %d/%d users\n", *surveyID, started, len(userIDs))
}

func parseInt64CSV(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", p, err)
		}
		out = append(out, id)
	}
	return out, nil
}
