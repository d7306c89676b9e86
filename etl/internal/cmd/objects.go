package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/telhawk-etl/common/logging"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/storage"
	"gopkg.in/yaml.v3"
)

var objectsCmd = &cobra.Command{
	Use:   "objects",
	Short: "Inspect objects written by the pipeline",
	Long: `List, print and delete objects under the configured prefix.

Keys are relative to the prefix, e.g.:
  etl objects ls history/
  etl objects get dev/data_engineering_task.json -o yaml
  etl objects get failed/2024_03_01__12_00_00_abcdefghij_response.json
  etl objects get logs/2024_03_01__12_00_00_abcdefghij.txt -o raw
  etl objects rm failed/2024_03_01__12_00_00_abcdefghij_response.json`,
}

var objectsLsCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List object keys",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runObjectsLs,
}

var objectsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the JSON records or document stored at key",
	Args:  cobra.ExactArgs(1),
	RunE:  runObjectsGet,
}

var objectsRmCmd = &cobra.Command{
	Use:   "rm <key>",
	Short: "Delete an object; a missing object is not an error",
	Args:  cobra.ExactArgs(1),
	RunE:  runObjectsRm,
}

func init() {
	rootCmd.AddCommand(objectsCmd)
	objectsCmd.AddCommand(objectsLsCmd)
	objectsCmd.AddCommand(objectsGetCmd)
	objectsCmd.AddCommand(objectsRmCmd)

	objectsGetCmd.Flags().StringP("output", "o", "json", "output format: json, yaml, raw")
}

// withGateway opens the configured bucket, runs fn and closes the bucket.
func withGateway(cmd *cobra.Command, fn func(ctx context.Context, gw *storage.Gateway) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	ctx := cmd.Context()
	bucket, closeBucket, err := openBucket(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBucket()

	return fn(ctx, newGateway(bucket, cfg, logger.Logger))
}

func runObjectsLs(cmd *cobra.Command, args []string) error {
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}
	return withGateway(cmd, func(ctx context.Context, gw *storage.Gateway) error {
		keys, err := gw.List(ctx, prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	})
}

func runObjectsGet(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	if err := checkFormat(format); err != nil {
		return err
	}
	return withGateway(cmd, func(ctx context.Context, gw *storage.Gateway) error {
		if format == "raw" {
			data, err := gw.GetRaw(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		records, err := gw.GetDocuments(ctx, args[0])
		if err != nil {
			return err
		}
		return writeRecords(cmd.OutOrStdout(), records, format)
	})
}

func runObjectsRm(cmd *cobra.Command, args []string) error {
	return withGateway(cmd, func(ctx context.Context, gw *storage.Gateway) error {
		return gw.Delete(ctx, args[0])
	})
}

func checkFormat(format string) error {
	switch format {
	case "json", "yaml", "raw":
		return nil
	}
	return fmt.Errorf("unknown output format %q (want json, yaml or raw)", format)
}

// writeRecords prints records as indented JSON documents or as a YAML
// sequence.
func writeRecords(w io.Writer, records []json.RawMessage, format string) error {
	switch format {
	case "yaml":
		docs := make([]any, len(records))
		for i, r := range records {
			if err := json.Unmarshal(r, &docs[i]); err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(docs); err != nil {
			return err
		}
		return enc.Close()

	default:
		for _, r := range records {
			var buf bytes.Buffer
			if err := json.Indent(&buf, r, "", "  "); err != nil {
				return err
			}
			buf.WriteByte('\n')
			if _, err := w.Write(buf.Bytes()); err != nil {
				return err
			}
		}
		return nil
	}
}
