package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/datamodel"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/repository"
)

// 导出格式
const (
	formatJSON   = "json"
	formatNGSILD = "ngsild"
	formatTOON   = "toon"
	formatXLSX   = "xlsx"
)

var exportOpts struct {
	format       string
	input        string
	output       string
	deviceID     string
	ldContext    string
	omitMetadata bool
	limit        int
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the canonical model",
	Long: `Builds the canonical model from a canonical JSON file (--input) or from the latest
stored records of the configured engine, then writes it as json, ngsild, toon or xlsx.`,
	RunE: runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&exportOpts.format, "format", "f", formatJSON, "output format: json, ngsild, toon, xlsx")
	f.StringVarP(&exportOpts.input, "input", "i", "", "canonical JSON file to import instead of reading storage")
	f.StringVarP(&exportOpts.output, "output", "o", "", "output file (default stdout)")
	f.StringVar(&exportOpts.deviceID, "device", "", "export a single device")
	f.StringVar(&exportOpts.ldContext, "context", "", "NGSI-LD @context URL")
	f.BoolVar(&exportOpts.omitMetadata, "omit-metadata", false, "omit document metadata from json/toon output")
	f.IntVar(&exportOpts.limit, "limit", repository.DefaultMaxRecords, "number of stored records to replay")
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if exportOpts.input != "" {
		noStore = true
	}

	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	if exportOpts.input != "" {
		data, err := os.ReadFile(exportOpts.input)
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		n, err := a.service.Model().FromJSON(data)
		if err != nil {
			a.logger.Warn("Some devices were not imported", zap.Error(err))
		}
		a.logger.Info("Imported devices", zap.Int("devices", n))
	} else {
		if err := a.service.Start(ctx); err != nil {
			return err
		}
		defer a.service.Stop(ctx)
		if _, err := a.service.Restore(ctx, exportOpts.limit); err != nil {
			return err
		}
	}

	var out io.Writer = cmd.OutOrStdout()
	if exportOpts.output != "" {
		file, err := os.Create(exportOpts.output)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer file.Close()
		out = file
	}

	opts := datamodel.ExportOptions{DeviceID: exportOpts.deviceID, OmitMetadata: exportOpts.omitMetadata}
	var data []byte
	switch exportOpts.format {
	case formatJSON:
		data, err = a.service.ExportCanonicalJSON(opts)
	case formatNGSILD:
		data, err = a.service.ExportLinkedData(datamodel.LinkedDataOptions{
			DeviceID: exportOpts.deviceID,
			Context:  exportOpts.ldContext,
		})
	case formatTOON:
		data, err = a.service.ExportCompactFormat(opts)
	case formatXLSX:
		return a.service.ExportSpreadsheet(out)
	default:
		return fmt.Errorf("unknown export format: %s", exportOpts.format)
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, string(data))
	return err
}
