package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"swiftdrop/internal/app/api"
	"swiftdrop/internal/common/logger"
	"swiftdrop/internal/common/metrics"
	"swiftdrop/internal/config"
	"swiftdrop/internal/connections/database"
	"swiftdrop/internal/connections/rabbitmq"
	deliveryrepo "swiftdrop/internal/microservices/delivery/repository"
	deliveryservice "swiftdrop/internal/microservices/delivery/service"
	"swiftdrop/internal/microservices/notifier"
	"swiftdrop/internal/realtime"
	"swiftdrop/internal/sweeper"
)

func main() {
	mode := flag.String("mode", "", "api | sweeper | notifier")
	cfgPath := flag.String("config", "", "path to YAML config")
	port := flag.Int("port", 0, "override http port (api mode)")
	flag.Parse()

	lg := logger.New("bootstrap")

	path := *cfgPath
	if path == "" {
		var err error
		path, err = config.FindConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, "no config found: pass -config")
			os.Exit(2)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		lg.Error("config_load_failed", err, map[string]any{"path": path})
		os.Exit(1)
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		lg.Error("db_connect_failed", err, nil)
		os.Exit(1)
	}
	defer db.Close()

	mq, err := rabbitmq.Dial(cfg.RabbitMQ, false)
	if err != nil {
		lg.Error("rabbitmq_connect_failed", err, nil)
		os.Exit(1)
	}
	defer mq.Close()
	if err := mq.DeclareTopology(); err != nil {
		lg.Error("rabbitmq_declare_failed", err, nil)
		os.Exit(1)
	}

	metrics.Register()

	switch *mode {
	case "api":
		lg.Info("service_started", map[string]any{"service": "api", "port": cfg.HTTP.Port})
		if err := api.Run(ctx, cfg, db, mq); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	case "sweeper":
		lg.Info("service_started", map[string]any{"service": "sweeper"})
		slg := logger.New("sweeper")
		pub := realtime.NewAMQPPublisher(mq, slg)
		svc := deliveryservice.New(deliveryrepo.New(db), pub, cfg.Delivery, slg)
		if err := sweeper.New(svc, cfg.Delivery, slg).Run(ctx); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	case "notifier":
		lg.Info("service_started", map[string]any{"service": "notifier"})
		if err := notifier.Run(ctx, mq); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "--mode is required: api | sweeper | notifier")
		os.Exit(2)
	}
}
