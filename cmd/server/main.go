package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rayvin/radiology-assistant/internal/analysis"
	"github.com/rayvin/radiology-assistant/internal/config"
	"github.com/rayvin/radiology-assistant/internal/database"
	"github.com/rayvin/radiology-assistant/internal/handler"
	"github.com/rayvin/radiology-assistant/internal/inference"
	mw "github.com/rayvin/radiology-assistant/internal/middleware"
	"github.com/rayvin/radiology-assistant/internal/queue"
	"github.com/rayvin/radiology-assistant/internal/report"
	"github.com/rayvin/radiology-assistant/internal/repository"
	"github.com/rayvin/radiology-assistant/internal/router"
	"github.com/rayvin/radiology-assistant/internal/service"
	"github.com/rayvin/radiology-assistant/internal/token"
	"github.com/rayvin/radiology-assistant/internal/utils"
)

func main() {
	cfg := config.Load() // Load environment config

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("schema: %v", err)
	}

	users := repository.NewUserRepo(db)
	studies := repository.NewStudyRepo(db)
	tokens := repository.NewTokenRepo(db)

	// Seed the bootstrap admin account so a fresh deployment is usable.
	if cfg.AdminPassword != "" {
		hash, err := utils.HashPassword(cfg.AdminPassword, cfg.BcryptCost)
		if err != nil {
			log.Fatalf("admin seed: %v", err)
		}
		if err := users.EnsureAdmin(ctx, cfg.AdminEmail, hash); err != nil {
			log.Fatalf("admin seed: %v", err)
		}
	}

	maker := token.NewMaker(cfg.JWTSecret,
		time.Duration(cfg.AccessTTLMin)*time.Minute,
		time.Duration(cfg.ResetTTLMin)*time.Minute,
		time.Duration(cfg.VerificationTTLH)*time.Hour,
	)

	orch := analysis.NewOrchestrator(
		studies,
		inference.NewClient(cfg.InferenceURL),
		report.NewClient(cfg.ReportURL),
		cfg.InferenceTimeout,
		cfg.ReportTimeout,
	)

	mail := service.NewEmailService(cfg)

	authH := handler.NewAuthHandler(users, tokens, maker, mail, cfg.BcryptCost)
	studyH := handler.NewStudyHandler(studies, cfg.UploadRoot)
	analysisH := handler.NewAnalysisHandler(studyH, orch)
	healthH := handler.NewHealthHandler(db)

	// Redis-backed sliding window; absent Redis degrades to allow-all.
	rdb := config.NewRedisClient()
	limiter := mw.NewSlidingWindow(config.LoadRateLimitConfig(), rdb)

	e := echo.New()
	e.HideBanner = true
	router.Register(e, router.Deps{
		Auth:      authH,
		Studies:   studyH,
		Analyses:  analysisH,
		Health:    healthH,
		Maker:     maker,
		Users:     users,
		RateLimit: limiter,
	})

	// Background SMTP consumer; reconnects on broker failure.
	go func() {
		if err := queue.StartEmailConsumer(cfg); err != nil {
			log.Printf("email consumer stopped: %v", err)
		}
	}()

	// Hourly cleanup of consumed-token records past their own expiry.
	go func() {
		for range time.Tick(time.Hour) {
			pctx, pcancel := context.WithTimeout(context.Background(), time.Minute)
			if n, err := tokens.PurgeExpired(pctx); err != nil {
				log.Printf("token purge: %v", err)
			} else if n > 0 {
				log.Printf("token purge: removed %d expired records", n)
			}
			pcancel()
		}
	}()

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
