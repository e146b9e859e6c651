package router

import (
	"context"
	"encoding/base64"
	"regexp"
	"testing"

	"docrouter/jsonval"
	"docrouter/layout"
	"docrouter/override"
	"docrouter/resolve"
)

type fixedProfileAnalyser struct {
	profile layout.Profile
}

func (f fixedProfileAnalyser) Analyse(context.Context, resolve.Descriptor, []byte) (layout.Profile, error) {
	return f.profile, nil
}

func testConfig() Config {
	cfg := NewConfig()
	cfg.DefaultStrategyMap = map[Category]StrategyConfig{
		CategoryShortForm: {Name: "short_form_parser"},
		CategoryUnknown:   {Name: "fallback_non_azure"},
	}
	return cfg
}

func TestCategorisationLaws(t *testing.T) {
	tests := []struct {
		name    string
		profile layout.Profile
		want    Category
	}{
		{"empty page list", layout.Profile{PageCount: 0}, CategoryUnknown},
		{"scanned takes precedence over table", layout.Profile{PageCount: 10, ScannedPageRatio: 1, TablePageRatio: 1}, CategoryScanned},
		{"table heavy", layout.Profile{PageCount: 20, TablePageRatio: 0.4}, CategoryTableHeavy},
		{"long form", layout.Profile{PageCount: 150, AverageTextDensity: 0.9}, CategoryLongForm},
		{"short form", layout.Profile{PageCount: 3, AverageTextDensity: 0.7}, CategoryShortForm},
		{"unknown: short page count but low density", layout.Profile{PageCount: 3, AverageTextDensity: 0.2}, CategoryUnknown},
	}

	r := New(testConfig(), nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.categorise(tt.profile)
			if got != tt.want {
				t.Errorf("categorise() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOverridePrecedenceRequestWinsOverEverything(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeStatic
	cfg.StaticStrategy = &StrategyConfig{Name: "C"}
	r := New(cfg, fixedProfileAnalyser{layout.BuildProfile("contract.pdf", "b", "application/pdf", 1, []layout.PageMetrics{{Index: 0}})}, resolve.NewChain(nil))

	overrides := override.OverrideSet{PatternOverrides: []override.PatternOverride{
		{Pattern: regexp.MustCompile("contract"), Strategy: override.StrategyConfig{Name: "B"}},
	}}

	analysis, err := r.Route(context.Background(), jsonval.Map{"parser_override": "A"}, "contract.pdf", overrides)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if analysis.Strategy.Name != "A" || analysis.Strategy.Reason != "request_override" {
		t.Errorf("Strategy = %+v, want name=A reason=request_override", analysis.Strategy)
	}
}

func TestScenario1SQSToRouting(t *testing.T) {
	cfg := testConfig()
	body := jsonval.Map{
		"s3": jsonval.Map{"bucket": jsonval.Map{"name": "b"}},
		"documentMetadata": jsonval.Map{
			"contentType": "application/pdf",
			"pageCount":   2,
			"layout":      jsonval.Map{"textDensity": 0.6, "imageDensity": 0.4},
		},
	}
	r := New(cfg, layout.HeuristicAnalyser{}, resolve.NewChain(nil))
	analysis, err := r.Route(context.Background(), body, "memo.pdf", override.OverrideSet{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if analysis.Category != CategoryShortForm {
		t.Errorf("Category = %v, want short_form", analysis.Category)
	}
	if analysis.Strategy.Name != "short_form_parser" || analysis.Strategy.Reason != "category_default" {
		t.Errorf("Strategy = %+v, want name=short_form_parser reason=category_default", analysis.Strategy)
	}
}

func TestScenario2TableThresholdRedirect(t *testing.T) {
	cfg := testConfig()
	max := 3
	cfg.TableHeavyMaxPages = &max
	cfg.FallbackStrategy = StrategyConfig{Name: "fallback_strategy"}

	pages := make([]layout.PageMetrics, 5)
	for i := range pages {
		pages[i] = layout.PageMetrics{Index: i, TableDensity: 0.9, TableCount: 1}
	}
	profile := layout.BuildProfile("doc.pdf", "b", "application/pdf", 0, pages)

	r := New(cfg, fixedProfileAnalyser{profile}, resolve.NewChain(nil))
	analysis, err := r.Route(context.Background(), jsonval.Map{}, "doc.pdf", override.OverrideSet{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if analysis.Category != CategoryTableHeavy {
		t.Errorf("Category = %v, want table_heavy", analysis.Category)
	}
	if analysis.Strategy.Name != "fallback_strategy" || analysis.Strategy.Reason != "page_threshold_exceeded" {
		t.Errorf("Strategy = %+v, want name=fallback_strategy reason=page_threshold_exceeded", analysis.Strategy)
	}
	if analysis.TotalTables != 5 {
		t.Errorf("TotalTables = %d, want 5", analysis.TotalTables)
	}
	if analysis.TablePageRatio != 1.0 {
		t.Errorf("TablePageRatio = %v, want 1.0", analysis.TablePageRatio)
	}
}

func TestScenario3RequestOverrideWinsOverPattern(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, fixedProfileAnalyser{layout.BuildProfile("contract.pdf", "", "application/pdf", 1, []layout.PageMetrics{{Index: 0}})}, resolve.NewChain(nil))

	overrides := override.OverrideSet{PatternOverrides: []override.PatternOverride{
		{Pattern: regexp.MustCompile("contract"), Strategy: override.StrategyConfig{Name: "pattern_strategy"}},
	}}

	analysis, err := r.Route(context.Background(), jsonval.Map{"parser_override": "force_parser"}, "contract.pdf", overrides)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if analysis.Strategy.Name != "force_parser" || analysis.Strategy.Reason != "request_override" {
		t.Errorf("Strategy = %+v, want name=force_parser reason=request_override", analysis.Strategy)
	}
	if len(analysis.OverridesApplied) != 1 || analysis.OverridesApplied[0] != "request" {
		t.Errorf("OverridesApplied = %v, want [request]", analysis.OverridesApplied)
	}
}

func TestScenario4MimeSniffFromInlinePayload(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("%PDF-1.7\n..."))
	body := jsonval.Map{"documentBytes": encoded}
	got := SniffMimeType("unknown.bin", body)
	if got != "application/pdf" {
		t.Errorf("SniffMimeType() = %q, want application/pdf", got)
	}
}
