package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Macmod/outparser/jsonl"
	"github.com/Macmod/outparser/stats"
)

var (
	reportDir string
	topN      int
)

// ReportCmd analyses a converted records file and prints frequency
// statistics, with CSV exports for further processing.
var ReportCmd = &cobra.Command{
	Use:   "report [records file]",
	Short: "Analyse a converted records file and show statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recordsPath := args[0]

		fmt.Println("Analyzing records file:", recordsPath)

		records, err := jsonl.ReadRecords(recordsPath)
		if err != nil {
			return err
		}

		fields := []string{"From", "To", "Day"}
		counter := make(map[string]map[string]int)
		for _, field := range fields {
			counter[field] = make(map[string]int)
		}

		withAttachments := 0
		undated := 0
		for _, rec := range records {
			if rec.From != "" {
				counter["From"][rec.From]++
			}
			if rec.To != "" {
				counter["To"][rec.To]++
			}
			if len(rec.Date) >= 10 {
				counter["Day"][rec.Date[:10]]++
			} else {
				undated++
			}
			if len(rec.Attachments) > 0 {
				withAttachments++
			}
		}

		fmt.Printf("Total records: %d\n", len(records))
		fmt.Printf("With attachments: %d\n", withAttachments)
		fmt.Printf("Undated: %d\n\n", undated)

		for _, field := range fields {
			fmt.Printf("Top %d %s:\n", topN, field)
			stats.PrettyPrintTop(counter[field], topN)
			fmt.Println()
		}

		if err := saveCSVReports(counter, fields, reportDir, 1000); err != nil {
			return fmt.Errorf("error saving CSV reports: %w", err)
		}

		fmt.Printf("\nReports saved to directory: %s\n", reportDir)

		return nil
	},
}

func init() {
	ReportCmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	ReportCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
}

func saveCSVReports(counter map[string]map[string]int, fields []string, dir string, limit int) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Write data for each field category to a separate file
	for _, field := range fields {
		counts := counter[field]

		filename := fmt.Sprintf("report_%s.csv", strings.ToLower(field))
		filePath := filepath.Join(dir, filename)

		file, err := os.Create(filePath)
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)

		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}

		// Sort by count descending
		type pair struct {
			Key   string
			Value int
		}
		var pairs []pair
		for k, v := range counts {
			pairs = append(pairs, pair{k, v})
		}
		sort.Slice(pairs, func(i, j int) bool {
			return pairs[i].Value > pairs[j].Value
		})

		// Write top N entries
		for i := 0; i < limit && i < len(pairs); i++ {
			record := []string{
				pairs[i].Key,
				strconv.Itoa(pairs[i].Value),
			}
			if err := writer.Write(record); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		file.Close()

		if err := writer.Error(); err != nil {
			return err
		}
	}

	return nil
}
