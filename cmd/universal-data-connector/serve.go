package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	mqttcommon "github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/mqtt"
	rediscommon "github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/redis"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/consumer"
)

const shutdownTimeout = 10 * time.Second

var restoreLimit int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion consumers and expose metrics",
	Long: `Connects the storage engine, consumes ingest envelopes from the Redis stream
(INGEST_STREAM) and MQTT topics (MQTT_TOPICS), and serves Prometheus metrics on METRICS_ADDR.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&restoreLimit, "restore", 0, "rebuild the model from the latest N stored records on startup")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	log := a.logger
	defer log.Sync()

	log.Info("Starting universal data connector",
		zap.String("storage_engine", a.cfg.Storage.Engine),
		zap.String("ingest_stream", a.cfg.Ingest.Stream),
		zap.Strings("mqtt_topics", a.cfg.Ingest.Topics),
	)

	if err := a.service.Start(ctx); err != nil {
		return err
	}
	if restoreLimit > 0 {
		if _, err := a.service.Restore(ctx, restoreLimit); err != nil {
			log.Warn("Failed to restore model from storage", zap.Error(err))
		}
	}

	errCh := make(chan error, 3)
	var consumers sync.WaitGroup

	var redisClient *redis.Client
	if a.cfg.Ingest.Stream != "" {
		redisClient = rediscommon.NewRedisClient(&a.cfg.Redis)
		if err := rediscommon.Ping(ctx, redisClient); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		streamConsumer := consumer.NewStreamConsumer(a.cfg, redisClient, a.service, log)
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			if err := streamConsumer.Start(ctx); err != nil {
				errCh <- fmt.Errorf("stream consumer: %w", err)
			}
		}()
	}

	var mqttClient *mqttcommon.Client
	var mqttConsumer *consumer.MQTTConsumer
	if len(a.cfg.Ingest.Topics) > 0 {
		mqttClient, err = mqttcommon.NewClient(&a.cfg.MQTT, log)
		if err != nil {
			return err
		}
		mqttConsumer = consumer.NewMQTTConsumer(a.cfg, mqttClient, a.service, log)
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			if err := mqttConsumer.Start(ctx); err != nil {
				errCh <- fmt.Errorf("mqtt consumer: %w", err)
			}
		}()
	}

	var metricsServer *http.Server
	if a.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		log.Info("Serving metrics", zap.String("addr", a.cfg.Metrics.Addr))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		log.Error("Component failed, shutting down", zap.Error(runErr))
	}

	// 优雅关闭
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if mqttConsumer != nil {
		mqttConsumer.Stop(shutdownCtx)
		mqttClient.Disconnect()
	}
	// 消费者退出后才能断开存储
	if err := waitDone(shutdownCtx, &consumers); err != nil {
		log.Warn("Consumers did not stop in time", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Failed to stop metrics server", zap.Error(err))
		}
	}
	if err := a.service.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
	}
	if redisClient != nil {
		rediscommon.Close(redisClient)
	}

	log.Info("Service stopped")
	return runErr
}

// waitDone 等待 wg 归零，ctx 先结束时返回 ctx.Err()
func waitDone(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
