package nemweb

import (
	"strings"
	"testing"
	"time"

	"github.com/woodid012/plugit/pkg/logger"
	"github.com/woodid012/plugit/pkg/marketime"
)

const dispatchPayload = "C,NEMP.WORLD,DISPATCH,AEMO,PUBLIC,2025/11/19,14:05:21\n" +
	"I,DREGION,,1,REGIONID,SETTLEMENTDATE,RRP\n" +
	"D,DREGION,,1,VIC1,\"2025/11/19 14:05:00\",55.23\n" +
	"D,DREGION,,1,NSW1,\"2025/11/19 14:05:00\",61.07\n" +
	"C,END OF REPORT\n"

func expectedAt(id string, t *testing.T) time.Time {
	t.Helper()
	ts, ok := marketime.ParseFileID(id)
	if !ok {
		t.Fatalf("bad file id %s", id)
	}
	return ts
}

func TestParseDispatchRow(t *testing.T) {
	p := NewParser(logger.Nop())
	got, stats, err := p.Parse(strings.NewReader(dispatchPayload), ParseOptions{
		Table:     "DREGION",
		Regions:   []string{"VIC1"},
		Expected:  expectedAt("202511191405", t),
		Tolerance: time.Minute,
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pts := got["VIC1"]
	if len(pts) != 1 {
		t.Fatalf("expected 1 point, got %d", len(pts))
	}
	if pts[0].Timestamp.Format(time.RFC3339) != "2025-11-19T14:05:00+10:00" {
		t.Fatalf("unexpected timestamp %s", pts[0].Timestamp.Format(time.RFC3339))
	}
	if pts[0].Price != 55.23 {
		t.Fatalf("unexpected price %v", pts[0].Price)
	}
	if _, ok := got["NSW1"]; ok {
		t.Fatalf("non-requested region must be discarded inline")
	}
	if stats.Kept != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestParseSettlementMismatchDropsRow(t *testing.T) {
	payload := "I,DREGION,,1,REGIONID,SETTLEMENTDATE,RRP\n" +
		"D,DREGION,,1,VIC1,\"2025/11/19 14:20:00\",55.23\n"

	p := NewParser(logger.Nop())
	got, stats, err := p.Parse(strings.NewReader(payload), ParseOptions{
		Table:     "DREGION",
		Regions:   []string{"VIC1"},
		Expected:  expectedAt("202511191405", t),
		Tolerance: time.Minute,
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got["VIC1"]) != 0 {
		t.Fatalf("15-minute mismatch must not appear in output")
	}
	if stats.DroppedMismatch != 1 {
		t.Fatalf("expected one mismatch drop, got %+v", stats)
	}
}

func TestParseSnapsSmallDriftToExpected(t *testing.T) {
	payload := "I,DREGION,,1,REGIONID,SETTLEMENTDATE,RRP\n" +
		"D,DREGION,,1,VIC1,\"2025/11/19 14:05:30\",55.23\n"

	p := NewParser(logger.Nop())
	got, _, err := p.Parse(strings.NewReader(payload), ParseOptions{
		Table:     "DREGION",
		Regions:   []string{"VIC1"},
		Expected:  expectedAt("202511191405", t),
		Tolerance: time.Minute,
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pts := got["VIC1"]
	if len(pts) != 1 {
		t.Fatalf("expected 1 point, got %d", len(pts))
	}
	if !pts[0].Timestamp.Equal(expectedAt("202511191405", t)) {
		t.Fatalf("in-tolerance drift must snap to the filename settlement, got %v", pts[0].Timestamp)
	}
}

func TestParseMalformedRowsSkipped(t *testing.T) {
	payload := "I,DREGION,,1,REGIONID,SETTLEMENTDATE,RRP\n" +
		"D,DREGION,,1,VIC1,\"not a date\",55.23\n" +
		"D,DREGION,,1,VIC1,\"2025/11/19 14:05:00\",not-a-number\n" +
		"D,DREGION,,1,VIC1\n" +
		"D,DREGION,,1,VIC1,\"2025/11/19 14:05:00\",42.00\n"

	p := NewParser(logger.Nop())
	got, stats, err := p.Parse(strings.NewReader(payload), ParseOptions{
		Table:   "DREGION",
		Regions: []string{"VIC1"},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got["VIC1"]) != 1 || got["VIC1"][0].Price != 42.00 {
		t.Fatalf("one bad row must not abort the parse: %+v", got["VIC1"])
	}
	if stats.DroppedDecode != 2 {
		t.Fatalf("expected 2 decode drops, got %+v", stats)
	}
}

func TestParseMissingHeaderYieldsEmpty(t *testing.T) {
	payload := "C,NEMP.WORLD\nD,DREGION,,1,VIC1,\"2025/11/19 14:05:00\",55.23\n"

	p := NewParser(logger.Nop())
	got, stats, err := p.Parse(strings.NewReader(payload), ParseOptions{
		Table:   "DREGION",
		Regions: []string{"VIC1"},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("data rows before a header must be ignored")
	}
	if stats.HeaderFound {
		t.Fatalf("header must be reported missing")
	}
}

func TestParseP5MINFamilyName(t *testing.T) {
	payload := "I,P5MIN,REGIONSOLUTION,1,INTERVAL_DATETIME,REGIONID,RRP\n" +
		"D,P5MIN,REGIONSOLUTION,1,\"2025/11/19 14:10:00\",VIC1,58.00\n" +
		"D,P5MIN,REGIONSOLUTION,1,\"2025/11/19 14:05:00\",VIC1,57.00\n"

	p := NewParser(logger.Nop())
	got, _, err := p.Parse(strings.NewReader(payload), ParseOptions{
		Table:   "P5MIN_REGIONSOLUTION",
		Regions: []string{"VIC1"},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pts := got["VIC1"]
	if len(pts) != 2 {
		t.Fatalf("expected 2 points, got %d", len(pts))
	}
	if !pts[0].Timestamp.Before(pts[1].Timestamp) {
		t.Fatalf("output must be ordered by timestamp")
	}
}

func TestParseWindowHistorical(t *testing.T) {
	now := time.Date(2025, 11, 19, 14, 10, 0, 0, marketime.AEST)
	payload := "I,DREGION,,1,REGIONID,SETTLEMENTDATE,RRP\n" +
		"D,DREGION,,1,VIC1,\"2025/11/19 12:05:00\",10.00\n" + // older than window
		"D,DREGION,,1,VIC1,\"2025/11/19 14:05:00\",20.00\n" + // in window
		"D,DREGION,,1,VIC1,\"2025/11/19 14:20:00\",30.00\n" + // within future tolerance
		"D,DREGION,,1,VIC1,\"2025/11/19 15:00:00\",40.00\n" // too far ahead

	p := NewParser(logger.Nop())
	got, stats, err := p.Parse(strings.NewReader(payload), ParseOptions{
		Table:           "DREGION",
		Regions:         []string{"VIC1"},
		HoursBack:       1,
		FutureTolerance: 15 * time.Minute,
		Now:             now,
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got["VIC1"]) != 2 {
		t.Fatalf("expected 2 points in window, got %d", len(got["VIC1"]))
	}
	if stats.DroppedWindow != 2 {
		t.Fatalf("expected 2 window drops, got %+v", stats)
	}
}
