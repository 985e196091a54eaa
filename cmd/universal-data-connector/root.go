package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/database"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/logger"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/config"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/datamodel"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/repository"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/service"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/transformer"
)

const serviceName = "universal-data-connector"

var (
	logLevel string
	noStore  bool
)

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Normalize industrial telemetry into a canonical data model",
	Long: `Universal data connector: maps OPC UA, Modbus, MQTT, AAS and generic payloads
into a canonical device model, persists them to the configured storage engine and
exports the model as canonical JSON, NGSI-LD, TOON or XLSX.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noStore, "no-store", false, "run without a storage engine")

	rootCmd.AddCommand(serveCmd, exportCmd, statsCmd, recordsCmd, publishCmd)
}

// app 一次命令运行所需的全部组件
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	service *service.NormalizerService
}

// newApp 加载配置并装配 映射规则 -> Registry -> 模型 -> 存储 -> 服务
func newApp(ctx context.Context, registerer prometheus.Registerer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rules, err := loadRules(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	transformerMetrics, err := transformer.NewMetrics(registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register transformer metrics: %w", err)
	}
	registry, err := transformer.NewRegistry(rules, log, transformerMetrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create mapper registry: %w", err)
	}

	var storage repository.Adapter
	if !noStore {
		storageMetrics, err := repository.NewMetrics(registerer)
		if err != nil {
			return nil, fmt.Errorf("failed to register storage metrics: %w", err)
		}
		storage, err = repository.New(cfg, repository.Options{
			Logger:  log,
			Metrics: storageMetrics,
		})
		if err != nil {
			return nil, err
		}
	}

	return &app{
		cfg:     cfg,
		logger:  log,
		service: service.NewNormalizerService(registry, datamodel.NewModel(log), storage, log),
	}, nil
}

// loadRules 按 MAPPING_RULES_SOURCE 从 YAML 文件或 mapping_rules 表加载映射规则
func loadRules(ctx context.Context, cfg *config.Config, log *zap.Logger) (map[transformer.Protocol]transformer.RuleSet, error) {
	switch cfg.Mapping.RulesSource {
	case config.RulesSourceDB:
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect rules database: %w", err)
		}
		defer database.Close(db)

		repo := repository.NewRuleRepository(db, log)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		rules, err := repo.LoadRules(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("Loaded mapping rules from database", zap.Int("protocols", len(rules)))
		return rules, nil
	case config.RulesSourceFile, "":
		rules, err := transformer.LoadRulesFile(cfg.Mapping.RulesFile)
		if err != nil {
			return nil, err
		}
		if cfg.Mapping.RulesFile != "" {
			log.Info("Loaded mapping rules from file",
				zap.String("path", cfg.Mapping.RulesFile),
				zap.Int("protocols", len(rules)),
			)
		}
		return rules, nil
	}
	return nil, fmt.Errorf("unknown mapping rules source: %s", cfg.Mapping.RulesSource)
}
