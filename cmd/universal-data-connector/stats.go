package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/repository"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/service"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage health and statistics",
	Long:  `Connects the configured storage engine and prints its health, statistics and the mapping statistics of the replayed model as JSON.`,
	RunE:  runStats,
}

var statsLimit int

func init() {
	statsCmd.Flags().IntVar(&statsLimit, "restore", 0, "replay the latest N stored records before computing mapping statistics")
}

// statsReport stats 命令的输出
type statsReport struct {
	Mapping service.MappingStatistics `json:"mapping"`
	Storage *models.StorageStats      `json:"storage,omitempty"`
	Health  *models.HealthStatus      `json:"health,omitempty"`
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	if err := a.service.Start(ctx); err != nil {
		return err
	}
	defer a.service.Stop(ctx)

	report := statsReport{}
	if storage := a.service.Storage(); storage != nil {
		if statsLimit > 0 {
			if _, err := a.service.Restore(ctx, statsLimit); err != nil {
				return err
			}
		}
		report.Health = storage.HealthCheck(ctx)
		if report.Storage, err = storage.GetStats(ctx); err != nil {
			return err
		}
	}
	report.Mapping = a.service.GetMappingStatistics()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

var recordsOpts struct {
	source    string
	search    string
	since     time.Duration
	limit     int
	aggregate string
	bucket    time.Duration
}

var recordsCmd = &cobra.Command{
	Use:     "records",
	Aliases: []string{"r"},
	Short:   "List stored records",
	Long: `List the newest stored records, optionally filtered by source, time window or a case-sensitive text search.
With --aggregate, print time-bucketed count/avg/min/max of one measurement instead (timescale engine only).`,
	RunE: runRecords,
}

func init() {
	f := recordsCmd.Flags()
	f.StringVar(&recordsOpts.source, "source", "", "only records of this source id")
	f.StringVar(&recordsOpts.search, "search", "", "substring to search in id, source and payload")
	f.DurationVar(&recordsOpts.since, "since", 0, "only records observed within this window")
	f.IntVar(&recordsOpts.limit, "limit", 20, "maximum number of records")
	f.StringVar(&recordsOpts.aggregate, "aggregate", "", "measurement id to aggregate per time bucket")
	f.DurationVar(&recordsOpts.bucket, "bucket", time.Hour, "bucket width for --aggregate")
}

func runRecords(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if noStore {
		return fmt.Errorf("records requires a storage engine")
	}
	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	if err := a.service.Start(ctx); err != nil {
		return err
	}
	defer a.service.Stop(ctx)
	storage := a.service.Storage()

	if recordsOpts.aggregate != "" {
		aggregator, ok := storage.(repository.Aggregator)
		if !ok {
			return fmt.Errorf("storage engine %s does not support aggregation", storage.Engine())
		}
		opts := repository.AggregateOptions{
			Bucket:      recordsOpts.bucket,
			Measurement: recordsOpts.aggregate,
			SourceID:    recordsOpts.source,
		}
		if recordsOpts.since > 0 {
			opts.StartTime = time.Now().Add(-recordsOpts.since)
		}
		return printAggregate(ctx, cmd.OutOrStdout(), aggregator, opts)
	}

	var records []*models.StorageRecord
	if recordsOpts.search != "" {
		records, err = storage.Search(ctx, recordsOpts.search)
	} else {
		opts := models.QueryOptions{SourceID: recordsOpts.source, Limit: recordsOpts.limit}
		if recordsOpts.since > 0 {
			opts.StartTime = time.Now().Add(-recordsOpts.since)
		}
		records, err = storage.Query(ctx, opts)
	}
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No records found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tSOURCE\tTYPE\tTIMESTAMP")
	for i, rec := range records {
		if i >= recordsOpts.limit {
			break
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.ID, rec.SourceID, rec.SourceType, models.FormatTimestamp(rec.Timestamp))
	}
	return nil
}

// printAggregate 以表格输出分桶聚合结果，没有数值的桶显示 "-"
func printAggregate(ctx context.Context, out io.Writer, aggregator repository.Aggregator, opts repository.AggregateOptions) error {
	buckets, err := aggregator.Aggregate(ctx, opts)
	if err != nil {
		return err
	}
	if len(buckets) == 0 {
		fmt.Fprintln(out, "No records found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "BUCKET\tCOUNT\tAVG\tMIN\tMAX")
	for _, b := range buckets {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			models.FormatTimestamp(b.Bucket), b.Count, formatFloat(b.Avg), formatFloat(b.Min), formatFloat(b.Max))
	}
	return nil
}

func formatFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *v)
}
