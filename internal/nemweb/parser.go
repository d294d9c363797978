package nemweb

import (
	"bufio"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/woodid012/plugit/internal/domain/models"
	"github.com/woodid012/plugit/pkg/logger"
	"github.com/woodid012/plugit/pkg/marketime"
)

// The payload format carries a row-type discriminator in the first field:
// 'C' metadata, 'I' table-header rows declaring column names for a named
// table, 'D' data rows for that table. Column names and values both start
// at this offset (after row type, table name, subtype, version).
const fieldOffset = 4

// timeColumns are the accepted settlement-timestamp column names, in
// preference order. Different report families name the column differently.
var timeColumns = []string{"SETTLEMENTDATE", "PERIODID", "INTERVAL_DATETIME"}

const (
	regionColumn = "REGIONID"
	priceColumn  = "RRP"
)

// ParseOptions selects the table, regions and validation policy for a parse.
type ParseOptions struct {
	// Table is the target table name, e.g. DREGION, P5MIN, PDREGION. Rows
	// whose declared name equals Table or Table's first underscore segment
	// are accepted.
	Table string
	// Regions filters rows to the given region codes. Empty keeps all.
	Regions []string
	// Expected, when non-zero, is the settlement instant derived from the
	// file identifier. Rows deviating more than Tolerance are dropped; rows
	// inside the tolerance are snapped to Expected.
	Expected  time.Time
	Tolerance time.Duration
	// HoursBack/HoursAhead window the output relative to Now. With
	// HoursBack set, rows up to FutureTolerance ahead of Now are still
	// accepted since dispatch files can publish slightly ahead of the clock.
	HoursBack       int
	HoursAhead      int
	FutureTolerance time.Duration
	// Now anchors window filtering; zero means the current market time.
	Now time.Time
}

// ParseStats reports what a parse kept and dropped.
type ParseStats struct {
	Kept            int
	DroppedDecode   int
	DroppedWindow   int
	DroppedMismatch int
	HeaderFound     bool
}

// Parser streams report payloads line by line. One instance is reusable
// across files; it holds no per-parse state.
type Parser struct {
	log *logger.Logger
}

func NewParser(log *logger.Logger) *Parser {
	return &Parser{log: log}
}

// Parse scans the payload in a single pass and extracts ordered
// region/timestamp/price points for the requested table. Malformed rows are
// skipped with a diagnostic; a payload without the target table's header
// yields an empty result, not an error. Only read failures are errors.
func (p *Parser) Parse(r io.Reader, opts ParseOptions) (map[string][]models.PricePoint, ParseStats, error) {
	now := opts.Now
	if now.IsZero() {
		now = marketime.Now()
	}

	wantRegion := make(map[string]bool, len(opts.Regions))
	for _, region := range opts.Regions {
		wantRegion[region] = true
	}

	var (
		stats     ParseStats
		out       = make(map[string][]models.PricePoint)
		regionIdx = -1
		timeIdx   = -1
		priceIdx  = -1
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		parts := strings.Split(strings.TrimRight(scanner.Text(), "\r\n"), ",")
		if len(parts) <= fieldOffset {
			continue
		}

		switch parts[0] {
		case "I":
			if !tableMatches(parts[1], opts.Table) {
				continue
			}
			columns := parts[fieldOffset:]
			regionIdx, timeIdx, priceIdx = resolveColumns(columns)
			if regionIdx < 0 || timeIdx < 0 || priceIdx < 0 {
				p.log.Warn("table header missing required columns",
					logger.String("table", parts[1]),
					logger.Int("columns", len(columns)))
				regionIdx, timeIdx, priceIdx = -1, -1, -1
				continue
			}
			stats.HeaderFound = true
			p.log.Debug("table header resolved",
				logger.String("table", parts[1]),
				logger.Int("columns", len(columns)))

		case "D":
			if regionIdx < 0 || !tableMatches(parts[1], opts.Table) {
				continue
			}
			values := parts[fieldOffset:]
			if len(values) <= max3(regionIdx, timeIdx, priceIdx) {
				stats.DroppedDecode++
				continue
			}

			region := strings.TrimSpace(values[regionIdx])
			if len(wantRegion) > 0 && !wantRegion[region] {
				continue
			}

			ts, ok := marketime.ParseSettlement(strings.Trim(strings.TrimSpace(values[timeIdx]), `"`))
			if !ok {
				stats.DroppedDecode++
				continue
			}

			if !opts.Expected.IsZero() {
				diff := ts.Sub(opts.Expected)
				if diff < 0 {
					diff = -diff
				}
				if diff > opts.Tolerance {
					stats.DroppedMismatch++
					p.log.Warn("settlement timestamp mismatch, row dropped",
						logger.String("region", region),
						logger.Time("row", ts),
						logger.Time("expected", opts.Expected),
						logger.Duration("difference", diff))
					continue
				}
				// Small drift inside the tolerance is normalised to the
				// filename's settlement instant.
				ts = opts.Expected
			}

			if !inWindow(ts, now, opts) {
				stats.DroppedWindow++
				continue
			}

			price, err := strconv.ParseFloat(strings.TrimSpace(values[priceIdx]), 64)
			if err != nil {
				stats.DroppedDecode++
				continue
			}

			out[region] = append(out[region], models.PricePoint{
				Timestamp: ts,
				Price:     math.Round(price*100) / 100,
			})
			stats.Kept++
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, stats, err
	}

	if !stats.HeaderFound {
		p.log.Warn("target table not found in payload", logger.String("table", opts.Table))
	}

	for region := range out {
		pts := out[region]
		sort.Slice(pts, func(i, j int) bool { return pts[i].Timestamp.Before(pts[j].Timestamp) })
	}

	return out, stats, nil
}

// tableMatches accepts the exact table name or its first underscore segment
// (P5MIN rows carry the bare family name with the table as subtype).
func tableMatches(rowName, want string) bool {
	rowName = strings.ToUpper(strings.TrimSpace(rowName))
	want = strings.ToUpper(want)
	if rowName == want {
		return true
	}
	if i := strings.IndexByte(want, '_'); i > 0 {
		return rowName == want[:i]
	}
	return false
}

func resolveColumns(columns []string) (regionIdx, timeIdx, priceIdx int) {
	regionIdx, timeIdx, priceIdx = -1, -1, -1
	index := make(map[string]int, len(columns))
	for i, col := range columns {
		index[strings.ToUpper(strings.TrimSpace(col))] = i
	}
	if i, ok := index[regionColumn]; ok {
		regionIdx = i
	}
	for _, name := range timeColumns {
		if i, ok := index[name]; ok {
			timeIdx = i
			break
		}
	}
	if i, ok := index[priceColumn]; ok {
		priceIdx = i
	}
	return regionIdx, timeIdx, priceIdx
}

func inWindow(ts, now time.Time, opts ParseOptions) bool {
	switch {
	case opts.HoursBack > 0:
		cutoffPast := now.Add(-time.Duration(opts.HoursBack) * time.Hour)
		return !ts.Before(cutoffPast) && !ts.After(now.Add(opts.FutureTolerance))
	case opts.HoursAhead > 0:
		return ts.After(now) && !ts.After(now.Add(time.Duration(opts.HoursAhead)*time.Hour))
	default:
		return true
	}
}

func max3(a, b, c int) int {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
