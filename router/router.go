// Package router resolves the parsing strategy for an incoming
// document: it sniffs MIME type, resolves content, runs a layout
// analyser, categorises the result, and applies override precedence.
package router

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"docrouter/jsonval"
	"docrouter/layout"
	"docrouter/override"
	"docrouter/resolve"
)

// Category is the high-level bucket used to pick a default parser strategy.
type Category string

const (
	CategoryShortForm  Category = "short_form"
	CategoryLongForm   Category = "long_form"
	CategoryScanned    Category = "scanned"
	CategoryTableHeavy Category = "table_heavy"
	CategoryFormHeavy  Category = "form_heavy"
	CategoryUnknown    Category = "unknown"
)

// Mode selects how the router weighs static configuration against
// per-document categorisation.
type Mode string

const (
	ModeStatic Mode = "static"
	ModeHybrid Mode = "hybrid"
)

// StrategyConfig is a declarative, named parser strategy.
type StrategyConfig struct {
	Name     string
	Model    *string
	MaxPages *int
}

// StrategyConfigFromMapping builds a StrategyConfig from a loosely
// typed JSON object, defaulting Name to "general" when absent.
func StrategyConfigFromMapping(m jsonval.Map) StrategyConfig {
	name := jsonval.StringOr(m, "general", "name")
	var model *string
	if s, ok := jsonval.String(m, "model"); ok {
		model = &s
	}
	var maxPages *int
	if n, ok := jsonval.Int(m, "max_pages"); ok {
		maxPages = &n
	}
	return StrategyConfig{Name: name, Model: model, MaxPages: maxPages}
}

// Strategy is the resolved parser strategy for one document, together
// with the reason it was chosen; the override path (if any) that applied
// is recorded in Analysis.OverridesApplied.
type Strategy struct {
	Name     string
	Reason   string
	Model    *string
	MaxPages *int
}

// Config configures a Router. A category missing from DefaultStrategyMap
// uses the CategoryUnknown entry, and FallbackStrategy when that entry is
// absent too (see StrategyForCategory).
type Config struct {
	Mode                  Mode
	RequestOverrideFlag   string
	DefaultStrategyMap    map[Category]StrategyConfig
	FallbackStrategy      StrategyConfig
	StaticStrategy        *StrategyConfig
	ScannedPageRatioThreshold float64
	TablePageRatioThreshold   float64
	FormPageRatioThreshold    float64
	ShortFormMinTextDensity   float64
	LongFormThreshold     int
	ShortFormThreshold    int
	ShortFormMaxPages     *int
	LongFormMaxPages      *int
	TableHeavyMaxPages    *int
	FormMaxPages          *int
}

// NewConfig returns a Config with the spec's default thresholds and an
// empty DefaultStrategyMap, so every category resolves to
// FallbackStrategy until entries are added.
func NewConfig() Config {
	return Config{
		Mode:                      ModeHybrid,
		RequestOverrideFlag:       "parser_override",
		DefaultStrategyMap:        map[Category]StrategyConfig{},
		FallbackStrategy:          StrategyConfig{Name: "fallback_non_azure"},
		ScannedPageRatioThreshold: 0.5,
		TablePageRatioThreshold:   0.3,
		FormPageRatioThreshold:    0.25,
		ShortFormMinTextDensity:   0.55,
		LongFormThreshold:         100,
		ShortFormThreshold:        15,
	}
}

// StrategyForCategory returns the configured default for category,
// falling back to the unknown-category entry.
func (c Config) StrategyForCategory(category Category) StrategyConfig {
	if s, ok := c.DefaultStrategyMap[category]; ok {
		return s
	}
	if s, ok := c.DefaultStrategyMap[CategoryUnknown]; ok {
		return s
	}
	return c.FallbackStrategy
}

func (c Config) maxPagesThreshold(category Category) *int {
	switch category {
	case CategoryShortForm:
		return c.ShortFormMaxPages
	case CategoryLongForm:
		return c.LongFormMaxPages
	case CategoryTableHeavy:
		return c.TableHeavyMaxPages
	case CategoryFormHeavy:
		return c.FormMaxPages
	default:
		return nil
	}
}

// Descriptor is the resolved view of one incoming message used for routing.
type Descriptor struct {
	ObjectKey       string
	Bucket          string
	Body            jsonval.Map
	MimeType        string
	RequestOverride string
}

// SourceURI returns the s3:// URI for this descriptor, or "" if bucket
// or object key is unset.
func (d Descriptor) SourceURI() string {
	if d.Bucket == "" || d.ObjectKey == "" {
		return ""
	}
	return fmt.Sprintf("s3://%s/%s", d.Bucket, d.ObjectKey)
}

// Analysis is the full routing decision and supporting metrics for one document.
type Analysis struct {
	ObjectKey            string
	MimeType             string
	PageCount            int
	Category             Category
	Strategy             Strategy
	OverridesApplied     []string
	RequestOverride      string
	AverageTextDensity   float64
	AverageImageDensity  float64
	TablePageRatio       float64
	ScannedPageRatio     float64
	CheckboxPageRatio    float64
	RadioButtonPageRatio float64
	FormPageRatio        float64
	TotalTables          int
	TotalCheckboxes      int
	TotalRadioButtons    int
	Pages                []layout.PageMetrics
	RawMetadata          jsonval.Map
}

// Router coordinates descriptor construction, content resolution,
// layout analysis, categorisation, and strategy resolution.
type Router struct {
	Config    Config
	Layout    layout.Analyser
	Resolvers *resolve.Chain
}

// New builds a Router.
func New(cfg Config, analyser layout.Analyser, resolvers *resolve.Chain) *Router {
	return &Router{Config: cfg, Layout: analyser, Resolvers: resolvers}
}

// Route runs the full routing pipeline for one message body.
func (r *Router) Route(ctx context.Context, body jsonval.Map, objectKey string, overrides override.OverrideSet) (Analysis, error) {
	descriptor := r.buildDescriptor(body, objectKey)

	resolveDescriptor := resolve.Descriptor{
		Bucket:   descriptor.Bucket,
		Key:      descriptor.ObjectKey,
		MimeType: descriptor.MimeType,
		Body:     descriptor.Body,
	}
	var content []byte
	if r.Resolvers != nil {
		content = r.Resolvers.Fetch(ctx, resolveDescriptor)
	}

	profile, err := r.Layout.Analyse(ctx, resolveDescriptor, content)
	if err != nil {
		return Analysis{}, fmt.Errorf("analyse layout for %s: %w", objectKey, err)
	}

	category := r.categorise(profile)
	strategy, applied := r.resolveStrategy(profile, descriptor, overrides, category)

	return Analysis{
		ObjectKey:            descriptor.ObjectKey,
		MimeType:             profile.MimeType,
		PageCount:            profile.PageCount,
		Category:             category,
		Strategy:             strategy,
		OverridesApplied:     applied,
		RequestOverride:      descriptor.RequestOverride,
		AverageTextDensity:   profile.AverageTextDensity,
		AverageImageDensity:  profile.AverageImageDensity,
		TablePageRatio:       profile.TablePageRatio,
		ScannedPageRatio:     profile.ScannedPageRatio,
		CheckboxPageRatio:    profile.CheckboxPageRatio,
		RadioButtonPageRatio: profile.RadioButtonPageRatio,
		FormPageRatio:        profile.FormPageRatio,
		TotalTables:          profile.TotalTables,
		TotalCheckboxes:      profile.TotalCheckboxes,
		TotalRadioButtons:    profile.TotalRadioButtons,
		Pages:                profile.Pages,
		RawMetadata:          body,
	}, nil
}

func (r *Router) buildDescriptor(body jsonval.Map, objectKey string) Descriptor {
	bucket, _ := jsonval.String(jsonval.AsMap(jsonval.GetPath(body, "s3", "bucket")), "name")
	mimeType := SniffMimeType(objectKey, body)

	var requestOverride string
	flag := r.Config.RequestOverrideFlag
	if s, ok := jsonval.String(body, flag); ok {
		requestOverride = s
	} else {
		routingBlock := jsonval.AsMap(jsonval.Get(body, "routing", "overrides"))
		if s, ok := jsonval.String(routingBlock, flag); ok {
			requestOverride = s
		}
	}

	return Descriptor{
		ObjectKey:       objectKey,
		Bucket:          bucket,
		Body:            body,
		MimeType:        mimeType,
		RequestOverride: requestOverride,
	}
}

// categorise implements the spec's fixed branch order: unknown on an
// empty page list, then scanned, table_heavy, form_heavy, long_form,
// short_form, else unknown. Order matters — scanned takes precedence
// over every other category.
func (r *Router) categorise(p layout.Profile) Category {
	if p.PageCount == 0 {
		return CategoryUnknown
	}
	if p.ScannedPageRatio >= r.Config.ScannedPageRatioThreshold {
		return CategoryScanned
	}
	if p.TablePageRatio >= r.Config.TablePageRatioThreshold {
		return CategoryTableHeavy
	}
	if p.FormPageRatio >= r.Config.FormPageRatioThreshold {
		return CategoryFormHeavy
	}
	if p.PageCount >= r.Config.LongFormThreshold {
		return CategoryLongForm
	}
	if p.PageCount <= r.Config.ShortFormThreshold && p.AverageTextDensity >= r.Config.ShortFormMinTextDensity {
		return CategoryShortForm
	}
	return CategoryUnknown
}

// resolveStrategy implements the spec's override precedence: request
// override, then pattern override, then (only in static mode) the
// static strategy, then a per-category max-pages threshold redirect,
// then the category default. Pattern/request overrides always win
// over static mode — static routing is checked only once neither kind
// of override applied.
func (r *Router) resolveStrategy(p layout.Profile, d Descriptor, overrides override.OverrideSet, category Category) (Strategy, []string) {
	if strategy, applied, ok := r.applyOverrides(d, overrides); ok {
		return strategy, applied
	}

	if r.Config.Mode == ModeStatic && r.Config.StaticStrategy != nil {
		static := *r.Config.StaticStrategy
		return Strategy{
			Name:     static.Name,
			Reason:   "config_static",
			Model:    static.Model,
			MaxPages: static.MaxPages,
		}, []string{"static_config"}
	}

	return r.determineStrategy(p, category)
}

func (r *Router) applyOverrides(d Descriptor, overrides override.OverrideSet) (Strategy, []string, bool) {
	if d.RequestOverride != "" {
		return Strategy{Name: d.RequestOverride, Reason: "request_override"}, []string{"request"}, true
	}

	for _, po := range overrides.PatternOverrides {
		if po.Pattern.MatchString(d.ObjectKey) {
			return Strategy{
				Name:     po.Strategy.Name,
				Reason:   "config_pattern_override",
				Model:    po.Strategy.Model,
				MaxPages: po.Strategy.MaxPages,
			}, []string{"pattern:" + po.Pattern.String()}, true
		}
	}

	return Strategy{}, nil, false
}

func (r *Router) determineStrategy(p layout.Profile, category Category) (Strategy, []string) {
	if threshold := r.Config.maxPagesThreshold(category); threshold != nil && p.PageCount > *threshold {
		fallback := r.Config.FallbackStrategy
		return Strategy{
			Name:     fallback.Name,
			Reason:   "page_threshold_exceeded",
			Model:    fallback.Model,
			MaxPages: threshold,
		}, []string{"threshold_redirect"}
	}

	entry := r.Config.StrategyForCategory(category)
	return Strategy{
		Name:     entry.Name,
		Reason:   "category_default",
		Model:    entry.Model,
		MaxPages: entry.MaxPages,
	}, []string{"category_default"}
}

// inlinePayloadKeys mirrors resolve.inlineKeys: these message-body keys
// may carry inline content used for MIME sniffing when nothing else is
// available.
var inlinePayloadKeys = []string{
	"documentBytes", "document_bytes", "documentContent", "document_content", "payload",
}

// SniffMimeType determines the MIME type for an incoming document:
// explicit metadata, then magic-byte detection of any inline payload,
// then an extension guess, then a generic fallback. It is deterministic:
// identical inputs always produce identical outputs.
func SniffMimeType(objectKey string, body jsonval.Map) string {
	meta := jsonval.AsMap(jsonval.Get(body, "documentMetadata"))
	if mimeType, ok := jsonval.String(meta, "contentType", "mimeType"); ok && mimeType != "" {
		return mimeType
	}

	if inline := extractInlineBytes(body); inline != nil {
		if detected := detectMimeFromBytes(inline); detected != "" {
			return detected
		}
	}

	if guessed := mime.TypeByExtension(filepath.Ext(objectKey)); guessed != "" {
		return guessed
	}
	return "application/octet-stream"
}

func extractInlineBytes(body jsonval.Map) []byte {
	for _, key := range inlinePayloadKeys {
		if s, ok := jsonval.String(body, key); ok && s != "" {
			return coerceBytes(s)
		}
	}
	meta := jsonval.AsMap(jsonval.Get(body, "documentMetadata"))
	if s, ok := jsonval.String(meta, "inlineContent", "inline_content"); ok && s != "" {
		return coerceBytes(s)
	}
	return nil
}

func coerceBytes(s string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded
	}
	return []byte(s)
}

// detectMimeFromBytes performs magic-byte MIME detection in the fixed
// priority order: PDF, OLE (legacy Office), ZIP-family (docx/pptx/xlsx
// vs generic zip), HTML, XML, RFC822 email header, then a printable-ASCII
// heuristic for plain text.
func detectMimeFromBytes(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	header := data
	if len(header) > 8 {
		header = header[:8]
	}
	if bytes.HasPrefix(header, []byte("%PDF-")) {
		return "application/pdf"
	}
	if bytes.HasPrefix(header, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}) {
		return "application/msword"
	}
	if bytes.HasPrefix(header, []byte("PK\x03\x04")) {
		return detectZipFamily(data)
	}

	snippetLen := len(data)
	if snippetLen > 2048 {
		snippetLen = 2048
	}
	snippet := strings.ToLower(strings.TrimSpace(string(data[:snippetLen])))
	switch {
	case strings.HasPrefix(snippet, "<!doctype html"), strings.HasPrefix(snippet, "<html"):
		return "text/html"
	case strings.HasPrefix(snippet, "<?xml"):
		return "application/xml"
	case strings.HasPrefix(snippet, "from:"), strings.HasPrefix(snippet, "received:"):
		return "message/rfc822"
	}

	sample := data
	if len(sample) > 128 {
		sample = sample[:128]
	}
	if len(sample) > 0 {
		printable := 0
		for _, b := range sample {
			if (b >= 32 && b <= 126) || b == 9 || b == 10 || b == 13 {
				printable++
			}
		}
		if float64(printable)/float64(len(sample)) > 0.9 {
			return "text/plain"
		}
	}
	return ""
}

func detectZipFamily(data []byte) string {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "application/zip"
	}
	var hasWord, hasPpt, hasXl bool
	for _, f := range reader.File {
		name := strings.ToLower(f.Name)
		switch {
		case strings.HasPrefix(name, "word/"):
			hasWord = true
		case strings.HasPrefix(name, "ppt/"):
			hasPpt = true
		case strings.HasPrefix(name, "xl/"):
			hasXl = true
		}
	}
	switch {
	case hasWord:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case hasPpt:
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case hasXl:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/zip"
	}
}
