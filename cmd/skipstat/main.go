// Builds a skip map from shuffled keys and prints how node heights are distributed compared to the geometric
// distribution the promotion probability implies.

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/nobletooth/skipmap/pkg/skipmap"
	"github.com/nobletooth/skipmap/pkg/utils"
	"github.com/olekukonko/tablewriter"
)

var (
	keyCount    = flag.Int("keys", 100_000, "Number of distinct keys to insert.")
	promotion   = flag.Float64("p", skipmap.DefaultPromotionProbability, "Promotion probability, in [0, 1].")
	seed        = flag.Int64("seed", time.Now().UnixNano(), "Seed for key shuffling and node heights.")
	removeRatio = flag.Float64("remove_ratio", 0, "Fraction of the keys removed after inserting, in [0, 1].")
)

// buildMap inserts `keys` shuffled keys, removes the first `removeRatio` share of them and verifies every lookup.
func buildMap(keys int, p float64, seed int64, removeRatio float64) (*skipmap.Map, error) {
	if keys < 0 {
		return nil, fmt.Errorf("expected a non-negative key count, got %d", keys)
	}
	if math.IsNaN(removeRatio) || removeRatio < 0 || removeRatio > 1 {
		return nil, fmt.Errorf("expected a remove ratio in [0, 1], got %v", removeRatio)
	}
	m, err := skipmap.New(skipmap.WithPromotionProbability(p), skipmap.WithSeed(seed))
	if err != nil {
		return nil, err
	}

	order := rand.New(rand.NewSource(seed)).Perm(keys)
	for _, key := range order {
		if err := m.Add(key, -key); err != nil {
			return nil, fmt.Errorf("failed to add key %d: %w", key, err)
		}
	}
	removed := int(float64(keys) * removeRatio)
	for _, key := range order[:removed] {
		if !m.Remove(key) {
			return nil, fmt.Errorf("key %d vanished before removal", key)
		}
	}

	var errs []error
	for i, key := range order {
		value, found := m.TryGet(key)
		if wantFound := i >= removed; found != wantFound || (found && value != -key) {
			errs = append(errs, fmt.Errorf("lookup of %d returned (%d, %v)", key, value, found))
		}
	}
	if m.Count() != keys-removed {
		errs = append(errs, fmt.Errorf("expected %d entries, got %d", keys-removed, m.Count()))
	}
	return m, errors.Join(errs...)
}

// expectedShare is the probability of a node getting height `height` with promotion probability `p`.
func expectedShare(height int, p float64) float64 {
	if height == skipmap.MaxLevel {
		return math.Pow(p, skipmap.MaxLevel-1)
	}
	return math.Pow(p, float64(height-1)) * (1 - p)
}

// heightRows formats the histogram up to the tallest observed node, one row per height.
func heightRows(heights []int, p float64) [][]string {
	total, tallest := 0, 0
	for i, nodes := range heights {
		total += nodes
		if nodes > 0 {
			tallest = i + 1
		}
	}
	rows := make([][]string, 0, tallest)
	for height := 1; height <= tallest; height++ {
		nodes := heights[height-1]
		observed := 0.0
		if total > 0 {
			observed = float64(nodes) / float64(total)
		}
		rows = append(rows, []string{
			strconv.Itoa(height),
			strconv.Itoa(nodes),
			strconv.FormatFloat(100*observed, 'f', 3, 64) + "%",
			strconv.FormatFloat(100*expectedShare(height, p), 'f', 3, 64) + "%",
		})
	}
	return rows
}

func render(out io.Writer, rows [][]string) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Height", "Nodes", "Observed", "Expected"})
	table.SetAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
}

func main() {
	flag.Parse()
	utils.InitLogging()

	start := time.Now()
	m, err := buildMap(*keyCount, *promotion, *seed, *removeRatio)
	if err != nil {
		slog.Error("Failed to build skip map.", "error", err)
		os.Exit(1)
	}
	slog.Info("Built skip map.", "entries", m.Count(), "p", *promotion, "seed", *seed, "took", time.Since(start))
	render(os.Stdout, heightRows(m.Heights(), *promotion))
}
