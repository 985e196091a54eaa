package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	rediscommon "github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/redis"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/config"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/consumer"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/transformer"
)

var publishOpts struct {
	protocol   string
	deviceID   string
	deviceType string
	topic      string
	sourceID   string
}

var publishCmd = &cobra.Command{
	Use:   "publish [payload-file]",
	Short: "Enqueue a source payload on the ingest stream",
	Long: `Wraps a source payload (file or stdin) in an ingest envelope and appends it to INGEST_STREAM,
where a running "serve" picks it up. Non-JSON payloads are sent as strings.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPublish,
}

func init() {
	f := publishCmd.Flags()
	f.StringVarP(&publishOpts.protocol, "protocol", "p", string(transformer.ProtocolGeneric), "source protocol: opcua, modbus, mqtt, aas, generic")
	f.StringVar(&publishOpts.deviceID, "device", "", "explicit device id")
	f.StringVar(&publishOpts.deviceType, "type", "", "explicit device type")
	f.StringVar(&publishOpts.topic, "topic", "", "MQTT topic")
	f.StringVar(&publishOpts.sourceID, "source", "", "source identifier")
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	protocol, err := transformer.ParseProtocol(publishOpts.protocol)
	if err != nil || protocol == transformer.ProtocolAny {
		return fmt.Errorf("unsupported protocol: %s", publishOpts.protocol)
	}

	var raw []byte
	if len(args) == 1 {
		raw, err = os.ReadFile(args[0])
	} else {
		raw, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload = string(raw)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client := rediscommon.NewRedisClient(&cfg.Redis)
	defer rediscommon.Close(client)

	env := consumer.NewEnvelope(protocol, payload, transformer.MapContext{
		DeviceID:   publishOpts.deviceID,
		DeviceType: publishOpts.deviceType,
		Topic:      publishOpts.topic,
		SourceID:   publishOpts.sourceID,
	})
	id, err := consumer.Publish(ctx, client, cfg.Ingest.Stream, env)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
