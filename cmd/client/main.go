// Command client runs a demo consumer of the connection manager against
// cmd/server: it connects, subscribes to the server's broadcasts, sends an
// acknowledged echo event on an interval and logs lifecycle events and
// health as they happen.
//
// Configuration comes from an optional yaml file (--config) overlaid with
// flags:
//
//	url: ws://localhost:8081/ws
//	credential: secret
//	heartbeat_interval: 10s
//	send_every: 3s
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	wschannel "github.com/lightforgemedia/go-wschannel"
)

func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault("url", "ws://localhost:8081/ws")
	v.SetDefault("credential", "")
	v.SetDefault("heartbeat_interval", 10*time.Second)
	v.SetDefault("send_every", 3*time.Second)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func main() {
	configPath := pflag.StringP("config", "c", "", "path to yaml config file")
	urlFlag := pflag.String("url", "", "backend endpoint (overrides config)")
	credFlag := pflag.String("credential", "", "handshake credential (overrides config)")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *urlFlag != "" {
		cfg.Set("url", *urlFlag)
	}
	if *credFlag != "" {
		cfg.Set("credential", *credFlag)
	}

	mgr := wschannel.New(cfg.GetString("url"),
		wschannel.WithLogger(logger),
		wschannel.WithHeartbeatInterval(cfg.GetDuration("heartbeat_interval")),
		wschannel.WithReconnect(1*time.Second, 5*time.Second, 10),
	)
	defer mgr.Destroy()

	events, cancelEvents := mgr.Events()
	defer cancelEvents()
	go func() {
		for ev := range events {
			switch ev.Type {
			case wschannel.EventStatusChange:
				logger.Info("status change", "state", ev.State)
			case wschannel.EventQualityChange:
				logger.Info("quality change", "quality", ev.Quality)
			case wschannel.EventError:
				logger.Warn("connection error", "error", ev.Err)
			case wschannel.EventMaxReconnectFailed:
				logger.Error("gave up reconnecting", "attempts", ev.Attempts)
			}
		}
	}()

	unsubTime := mgr.Subscribe("server.time", func(payload json.RawMessage) {
		logger.Info("server.time", "payload", string(payload))
	})
	defer unsubTime()
	unsubEcho := mgr.Subscribe("echo", func(payload json.RawMessage) {
		logger.Info("echo event", "payload", string(payload))
	})
	defer unsubEcho()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = mgr.Connect(ctx, cfg.GetString("credential"))
	cancel()
	if err != nil {
		logger.Error("initial connect failed", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.GetDuration("send_every"))
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-ticker.C:
			seq++
			id, err := mgr.Send("echo", map[string]int{"seq": seq}, &wschannel.SendOptions{
				Priority: wschannel.PriorityNormal,
				Timeout:  10 * time.Second,
				OnResult: func(err error, response json.RawMessage) {
					if err != nil {
						logger.Warn("echo failed", "error", err)
						return
					}
					logger.Info("echo acked", "response", string(response))
				},
			})
			if err != nil {
				logger.Warn("send failed", "error", err)
				continue
			}
			logger.Info("echo sent", "id", id, "queue_size", mgr.QueueSize(), "health", mgr.Health())
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig.String())
			return
		}
	}
}
