package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kozaktomas/event-photos/internal/database"
	"github.com/kozaktomas/event-photos/internal/index"
	"github.com/kozaktomas/event-photos/internal/indexer"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect and rebuild event indexes",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Extract missing descriptors of an event and build its index",
	Long: `Load every photo of an event, extracting and storing the descriptors of
photos that were never indexed, and build the event's in-memory index.

Photos that cannot be decoded are reported as skipped. The rebuild fails
if the extractor is unavailable.

Examples:
  event-photos index rebuild --event 3FA9C1D2
  event-photos index rebuild --event 3FA9C1D2 --json`,
	RunE: runIndexRebuild,
}

var indexVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare index matches with a database vector search",
	Long: `Match a selfie against an event twice, once through the in-memory index
and once with a pgvector search over the stored descriptors, and report any
difference between the two results.

Examples:
  event-photos index verify --event 3FA9C1D2 --selfie me.jpg`,
	RunE: runIndexVerify,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexVerifyCmd)

	indexRebuildCmd.Flags().String("event", "", "Event code")
	indexRebuildCmd.Flags().Bool("json", false, "Output as JSON")
	_ = indexRebuildCmd.MarkFlagRequired("event")

	indexVerifyCmd.Flags().String("event", "", "Event code")
	indexVerifyCmd.Flags().String("selfie", "", "Path to the selfie image")
	indexVerifyCmd.Flags().Int("show", 10, "Number of top matches to print")
	indexVerifyCmd.Flags().Bool("json", false, "Output as JSON")
	_ = indexVerifyCmd.MarkFlagRequired("event")
	_ = indexVerifyCmd.MarkFlagRequired("selfie")
}

// RebuildResult summarizes an index rebuild.
type RebuildResult struct {
	EventID  string  `json:"event_id"`
	Code     string  `json:"event_code"`
	Photos   int     `json:"photos"`
	Indexed  int     `json:"indexed"`
	Skipped  int     `json:"skipped"`
	Duration float64 `json:"duration_seconds"`
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	jsonOutput := mustGetBool(cmd, "json")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	event, err := a.events.ResolveEventByCode(ctx, mustGetString(cmd, "event"))
	if err != nil {
		return fmt.Errorf("failed to resolve event: %w", err)
	}

	total := 0
	var bar *progressbar.ProgressBar
	a.indexer.OnProgress = func(p indexer.Progress) {
		total = p.Total
		if jsonOutput {
			return
		}
		if bar == nil {
			bar = progressbar.NewOptions(p.Total,
				progressbar.OptionSetDescription("Indexing "+event.Name),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("photos"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		_ = bar.Set(p.Current)
	}

	a.arena.Invalidate(event.ID)
	start := time.Now()
	idx, err := a.arena.Get(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to build index: %w", err)
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}

	result := RebuildResult{
		EventID:  event.ID,
		Code:     event.Code,
		Photos:   total,
		Indexed:  idx.Len(),
		Skipped:  total - idx.Len(),
		Duration: time.Since(start).Seconds(),
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("Event:   %s (%s)\n", event.Name, event.Code)
	fmt.Printf("Photos:  %d\n", result.Photos)
	fmt.Printf("Indexed: %d\n", result.Indexed)
	if result.Skipped > 0 {
		fmt.Printf("Skipped: %d (see log for reasons)\n", result.Skipped)
	}
	fmt.Printf("Took:    %s\n", time.Duration(result.Duration*float64(time.Second)).Round(time.Millisecond))
	return nil
}

// scoreTolerance absorbs float32 rounding between the index and pgvector.
const scoreTolerance = 1e-4

// VerifyResult compares the index result with the database search.
type VerifyResult struct {
	EventID    string            `json:"event_id"`
	K          int               `json:"k"`
	Threshold  float64           `json:"threshold"`
	Index      []index.Candidate `json:"index"`
	Database   []index.Candidate `json:"database"`
	OnlyIndex  []string          `json:"only_index,omitempty"`
	OnlyDB     []string          `json:"only_database,omitempty"`
	ScoreDiffs []string          `json:"score_diffs,omitempty"`
	Consistent bool              `json:"consistent"`
}

func runIndexVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	jsonOutput := mustGetBool(cmd, "json")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	event, err := a.events.ResolveEventByCode(ctx, mustGetString(cmd, "event"))
	if err != nil {
		return fmt.Errorf("failed to resolve event: %w", err)
	}

	data, err := os.ReadFile(mustGetString(cmd, "selfie"))
	if err != nil {
		return fmt.Errorf("failed to read selfie: %w", err)
	}
	probe, err := a.extractor.Extract(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to extract selfie: %w", err)
	}

	policy := a.engine.Policy()
	fromIndex, err := a.engine.Match(ctx, event.ID, probe)
	if err != nil {
		return fmt.Errorf("index match failed: %w", err)
	}

	similar, err := a.photos.FindSimilarInEvent(ctx, event.ID, probe, policy.K)
	if err != nil {
		return fmt.Errorf("database search failed: %w", err)
	}
	fromDB := similarToCandidates(similar, policy.Threshold)

	result := compareResults(fromIndex, fromDB, policy.Threshold)
	result.EventID = event.ID
	result.K = policy.K

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printVerify(result, mustGetInt(cmd, "show"))
	}

	if !result.Consistent {
		return errors.New("index and database results differ")
	}
	return nil
}

// similarToCandidates turns cosine distances into scores and applies the
// match threshold.
func similarToCandidates(similar []database.SimilarPhoto, threshold float64) []index.Candidate {
	out := make([]index.Candidate, 0, len(similar))
	for _, s := range similar {
		score := max(0, 1-s.Distance)
		if score >= threshold {
			out = append(out, index.Candidate{PhotoID: s.PhotoID, Score: score})
		}
	}
	index.SortCandidates(out)
	return out
}

// compareResults reports photos present in only one result and photos whose
// scores disagree beyond scoreTolerance. Photos scoring within the tolerance of
// the threshold may fall on either side of it and are not reported as missing.
func compareResults(fromIndex, fromDB []index.Candidate, threshold float64) VerifyResult {
	result := VerifyResult{Threshold: threshold, Index: fromIndex, Database: fromDB}

	borderline := func(score float64) bool {
		return math.Abs(score-threshold) <= scoreTolerance
	}

	dbScores := make(map[string]float64, len(fromDB))
	for _, c := range fromDB {
		dbScores[c.PhotoID] = c.Score
	}
	seen := make(map[string]bool, len(fromIndex))
	for _, c := range fromIndex {
		seen[c.PhotoID] = true
		dbScore, ok := dbScores[c.PhotoID]
		switch {
		case !ok:
			if !borderline(c.Score) {
				result.OnlyIndex = append(result.OnlyIndex, c.PhotoID)
			}
		case math.Abs(dbScore-c.Score) > scoreTolerance:
			result.ScoreDiffs = append(result.ScoreDiffs,
				fmt.Sprintf("%s: index %.6f, database %.6f", c.PhotoID, c.Score, dbScore))
		}
	}
	for _, c := range fromDB {
		if !seen[c.PhotoID] && !borderline(c.Score) {
			result.OnlyDB = append(result.OnlyDB, c.PhotoID)
		}
	}

	result.Consistent = len(result.OnlyIndex) == 0 && len(result.OnlyDB) == 0 && len(result.ScoreDiffs) == 0
	return result
}

func printVerify(result VerifyResult, show int) {
	fmt.Printf("Policy: k=%d threshold=%.2f\n", result.K, result.Threshold)
	fmt.Printf("Index matches:    %d\n", len(result.Index))
	fmt.Printf("Database matches: %d\n\n", len(result.Database))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPHOTO\tSCORE")
	for i, c := range result.Index[:max(0, min(show, len(result.Index)))] {
		fmt.Fprintf(w, "%d\t%s\t%.4f\n", i+1, c.PhotoID, c.Score)
	}
	w.Flush()

	if result.Consistent {
		fmt.Println("\nResults are consistent")
		return
	}
	for _, id := range result.OnlyIndex {
		fmt.Printf("only in index: %s\n", id)
	}
	for _, id := range result.OnlyDB {
		fmt.Printf("only in database: %s\n", id)
	}
	for _, d := range result.ScoreDiffs {
		fmt.Printf("score differs: %s\n", d)
	}
}
