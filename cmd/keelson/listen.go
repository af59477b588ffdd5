package main

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	runtimepkg "github.com/drblury/keelson/internal/runtime"
	configpkg "github.com/drblury/keelson/internal/runtime/config"
	handlerpkg "github.com/drblury/keelson/internal/runtime/handlers"
	"github.com/drblury/keelson/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/keelson/internal/runtime/logging"
)

type sampleLine struct {
	Topic         string    `json:"topic"`
	Tag           string    `json:"tag"`
	SourceID      string    `json:"source_id"`
	EnclosedAt    time.Time `json:"enclosed_at"`
	Latency       string    `json:"latency"`
	Decoded       bool      `json:"decoded"`
	Payload       any       `json:"payload"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func runListen(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "listen", "-config file -topic T [-debug]")
	configPath := fs.String("config", "", "Service configuration file (YAML)")
	topicName := fs.String("topic", "", "Topic or key expression to subscribe to")
	debug := fs.Bool("debug", false, "Log at debug level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" || *topicName == "" {
		fs.Usage()
		return errors.New("-config and -topic are required")
	}

	conf, err := configpkg.LoadFile(*configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := loggingpkg.NewTextServiceLogger(env.stderr, level)

	svc, err := runtimepkg.NewService(conf, logger, ctx, runtimepkg.ServiceDependencies{
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	var mu sync.Mutex
	enc := jsoncodec.NewEncoder(env.stdout)
	err = runtimepkg.RegisterSubscriber(svc, handlerpkg.SubscriberRegistration{
		Name:  "listen",
		Topic: *topicName,
		Handler: func(ctx context.Context, sample handlerpkg.Sample) error {
			line := sampleLine{
				Topic:         sample.Metadata.Topic(),
				Tag:           sample.Tag(),
				SourceID:      sample.SourceID(),
				EnclosedAt:    time.Unix(0, sample.Envelope.EnclosedAt).UTC(),
				Latency:       sample.Latency().String(),
				Decoded:       sample.Decoded(),
				Payload:       base64.StdEncoding.EncodeToString(sample.Payload),
				CorrelationID: sample.CorrelationID(),
			}
			if sample.Decoded() {
				if doc, err := sample.Value.JSON(); err == nil {
					line.Payload = rawJSON(doc)
				}
			}
			mu.Lock()
			defer mu.Unlock()
			return enc.Encode(line)
		},
	})
	if err != nil {
		return err
	}

	if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
