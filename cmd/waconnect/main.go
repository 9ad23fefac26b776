package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/connexa/waconnect/config"
	"github.com/connexa/waconnect/internal/adminapi"
	"github.com/connexa/waconnect/internal/app"
	"github.com/connexa/waconnect/internal/notify"
	"github.com/connexa/waconnect/internal/store"
	"github.com/connexa/waconnect/internal/whatsapp"
)

var (
	h        = flag.Bool("h", false, "help usage")
	showVer  = flag.Bool("v", false, "show version")
	conffile = flag.String("c", "", "config yaml file")
	initdb   = flag.Bool("initdb", false, "drop and initialize database tables, pay attention to data backup")
)

var (
	BuildVersion string
	ReleaseDate  string
)

func printVersion() {
	fmt.Printf("waconnect %s (built %s)\n", BuildVersion, ReleaseDate)
}

func main() {
	flag.Parse()
	if *h {
		flag.Usage()
		os.Exit(0)
	}
	if *showVer {
		printVersion()
		os.Exit(0)
	}

	cfg := config.LoadConfig(*conffile)
	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initdb {
		application.InitDb()
		zap.L().Info("database initialized")
		return
	}

	waCfg := cfg.Whatsapp
	storeDSN := waCfg.StoreDSN
	if storeDSN == "" {
		storeDSN = fmt.Sprintf("file:%s/whatsmeow.db?_pragma=foreign_keys(1)", cfg.GetDataDir())
	}
	factory, err := whatsapp.NewMeowFactory(context.Background(), waCfg.StoreDriver, storeDSN)
	if err != nil {
		zap.L().Fatal("whatsmeow store init failed", zap.Error(err))
	}

	accounts := store.NewAccountStore(application.DB())
	push := notify.NewPush(notify.NewWebhook(waCfg.WebhookURL))
	mailer := notify.NewMailer(cfg.Smtp)

	pairingTTL, _ := time.ParseDuration(waCfg.PairingTTL)
	sessions := whatsapp.New(accounts, push, mailer, factory.NewClient, nil, whatsapp.Options{
		ReconnectCeiling: waCfg.ReconnectCeiling,
		PairingTTL:       pairingTTL,
		AlertAfter:       time.Duration(waCfg.AlertAfterHours) * time.Hour,
		SweepWorkers:     waCfg.SweepWorkers,
		SessionDir:       cfg.GetSessionDir(),
	})

	sweepInterval := waCfg.SweepInterval
	if sweepInterval == "" {
		sweepInterval = "15m"
	}
	_, err = application.Scheduler().AddFunc("@every "+sweepInterval, func() {
		if err := sessions.Sweep(context.Background()); err != nil {
			zap.L().Error("health sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		zap.L().Fatal("failed to schedule health sweep", zap.Error(err))
	}

	server := adminapi.NewServer(application, sessions)
	server.Init()

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(server.Start)
	g.Go(func() error {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigc:
			zap.L().Info("shutting down", zap.String("signal", sig.String()))
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("server exited", zap.Error(err))
	}
}
