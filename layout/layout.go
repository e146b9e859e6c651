// Package layout analyses raw document bytes into per-page density
// metrics and an aggregated profile used to categorise a document and
// pick a parsing strategy. Every Analyser degrades to a heuristic
// estimate rather than failing outright: layout analysis informs
// routing, it never blocks it.
package layout

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"docrouter/jsonval"
	"docrouter/resolve"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// PageMetrics summarises layout signals for a single page or email part.
type PageMetrics struct {
	Index             int
	TextDensity       float64
	ImageDensity      float64
	TableDensity      float64
	CharCount         *int
	TableCount        int
	ImageCount        int
	CheckboxCount     int
	RadioButtonCount  int
}

// Profile is the aggregated, page-level-derived view of a document used
// for categorisation. Ratios are fractions of pages meeting a per-metric
// threshold, not averages of the raw densities.
type Profile struct {
	ObjectKey              string
	Bucket                 string
	MimeType               string
	PageCount              int
	Pages                  []PageMetrics
	AverageTextDensity     float64
	AverageImageDensity    float64
	TablePageRatio         float64
	ScannedPageRatio       float64
	CheckboxPageRatio      float64
	RadioButtonPageRatio   float64
	FormPageRatio          float64
	TotalTables            int
	TotalCheckboxes        int
	TotalRadioButtons      int
}

// Analyser produces a Profile for a document descriptor. content may be
// nil, in which case an Analyser that needs bytes resolves its own via
// a content resolver chain (or falls back to a heuristic estimate).
type Analyser interface {
	Analyse(ctx context.Context, d resolve.Descriptor, content []byte) (Profile, error)
}

// BuildProfile aggregates page metrics into a Profile. It mirrors the
// original router's profile-aggregation rules exactly: a page counts
// toward table_page_ratio when its table density is >= 0.5 or it has
// any detected tables; toward scanned_page_ratio when its image
// density is >= 0.6 or it has more than 2 images; toward
// checkbox/radio ratios on any non-zero count; and toward
// form_page_ratio when either widget count is non-zero.
func BuildProfile(objectKey, bucket, mimeType string, inferredPageCount int, pages []PageMetrics) Profile {
	n := len(pages)
	pageCount := n
	if pageCount == 0 {
		pageCount = inferredPageCount
	}

	var sumText, sumImage float64
	var tablePages, scannedPages, checkboxPages, radioPages, formPages int
	var totalTables, totalCheckboxes, totalRadioButtons int

	for _, p := range pages {
		sumText += p.TextDensity
		sumImage += p.ImageDensity
		if p.TableDensity >= 0.5 || p.TableCount > 0 {
			tablePages++
		}
		if p.ImageDensity >= 0.6 || p.ImageCount > 2 {
			scannedPages++
		}
		if p.CheckboxCount > 0 {
			checkboxPages++
		}
		if p.RadioButtonCount > 0 {
			radioPages++
		}
		if p.CheckboxCount > 0 || p.RadioButtonCount > 0 {
			formPages++
		}
		totalTables += p.TableCount
		totalCheckboxes += p.CheckboxCount
		totalRadioButtons += p.RadioButtonCount
	}

	ratio := func(count int) float64 {
		if n == 0 {
			return 0
		}
		return float64(count) / float64(n)
	}
	mean := func(sum float64) float64 {
		if n == 0 {
			return 0
		}
		return sum / float64(n)
	}

	return Profile{
		ObjectKey:            objectKey,
		Bucket:               bucket,
		MimeType:             mimeType,
		PageCount:            pageCount,
		Pages:                pages,
		AverageTextDensity:   mean(sumText),
		AverageImageDensity:  mean(sumImage),
		TablePageRatio:       ratio(tablePages),
		ScannedPageRatio:     ratio(scannedPages),
		CheckboxPageRatio:    ratio(checkboxPages),
		RadioButtonPageRatio: ratio(radioPages),
		FormPageRatio:        ratio(formPages),
		TotalTables:          totalTables,
		TotalCheckboxes:      totalCheckboxes,
		TotalRadioButtons:    totalRadioButtons,
	}
}

// InferPageCount recovers a page count from message metadata when no
// page metrics were produced, e.g. an empty document.
func InferPageCount(body jsonval.Map) int {
	meta := jsonval.AsMap(jsonval.Get(body, "documentMetadata"))
	if meta == nil {
		return 0
	}
	if n, ok := jsonval.Int(meta, "pageCount"); ok {
		return n
	}
	if layoutMeta := jsonval.AsMap(jsonval.Get(meta, "layout")); layoutMeta != nil {
		if pages := jsonval.List(layoutMeta, "pages"); pages != nil {
			return len(pages)
		}
	}
	if n, ok := jsonval.Int(body, "page_count", "pageCount"); ok {
		return n
	}
	return 0
}

// PageMetricsFromPayload decodes a vendor page-metrics payload,
// tolerating both snake_case and camelCase field spellings.
func PageMetricsFromPayload(idx int, payload jsonval.Map) PageMetrics {
	textDensity := jsonval.FloatOr(payload, 0.5, "text_density", "textDensity")
	imageDensity := jsonval.FloatOr(payload, 1-textDensity, "image_density", "imageDensity")
	tableDensity := jsonval.FloatOr(payload, 0.0, "table_density", "tableDensity")

	var charCount *int
	if n, ok := jsonval.Int(payload, "char_count", "charCount"); ok {
		charCount = &n
	}

	index := idx
	if n, ok := jsonval.Int(payload, "index"); ok {
		index = n
	}

	return PageMetrics{
		Index:            index,
		TextDensity:      jsonval.Clamp01(textDensity),
		ImageDensity:     jsonval.Clamp01(imageDensity),
		TableDensity:     jsonval.Clamp01(tableDensity),
		CharCount:        charCount,
		TableCount:       jsonval.IntOr(payload, 0, "table_count", "tableCount"),
		ImageCount:       jsonval.IntOr(payload, 0, "image_count", "imageCount"),
		CheckboxCount:    jsonval.IntOr(payload, 0, "checkbox_count", "checkboxCount"),
		RadioButtonCount: jsonval.IntOr(payload, 0, "radio_button_count", "radioButtonCount"),
	}
}

// HeuristicAnalyser builds a Profile from embedded documentMetadata.layout
// hints, or a single flat estimate when none are present. It never
// errors and never needs the document's bytes.
type HeuristicAnalyser struct{}

// Analyse implements Analyser.
func (HeuristicAnalyser) Analyse(_ context.Context, d resolve.Descriptor, _ []byte) (Profile, error) {
	meta := jsonval.AsMap(jsonval.Get(d.Body, "documentMetadata"))
	layoutMeta := jsonval.AsMap(jsonval.Get(meta, "layout"))

	var pages []PageMetrics
	if raw := jsonval.List(layoutMeta, "pages"); raw != nil {
		for i, p := range raw {
			pages = append(pages, PageMetricsFromPayload(i, jsonval.AsMap(p)))
		}
	}

	if len(pages) == 0 {
		inferred := InferPageCount(d.Body)
		if inferred < 1 {
			inferred = 1
		}
		textDensity := jsonval.FloatOr(layoutMeta, 0.5, "textDensity")
		imageDensity := jsonval.FloatOr(layoutMeta, 1-textDensity, "imageDensity")
		tableDensity := jsonval.FloatOr(layoutMeta, 0.0, "tableDensity")
		for i := 0; i < inferred; i++ {
			pages = append(pages, PageMetrics{
				Index:        i,
				TextDensity:  jsonval.Clamp01(textDensity),
				ImageDensity: jsonval.Clamp01(imageDensity),
				TableDensity: jsonval.Clamp01(tableDensity),
			})
		}
	}

	return BuildProfile(d.Key, d.Bucket, d.MimeType, 0, pages), nil
}

// ModelBackedAnalyser delegates to an external layout model, falling
// back to another Analyser (typically HeuristicAnalyser) on any error
// or an empty response.
type ModelBackedAnalyser struct {
	Client   LayoutModelClient
	Fallback Analyser
	Logger   *zap.Logger
}

// NewModelBackedAnalyser builds a ModelBackedAnalyser, defaulting the
// fallback to HeuristicAnalyser.
func NewModelBackedAnalyser(client LayoutModelClient, fallback Analyser, logger *zap.Logger) *ModelBackedAnalyser {
	if fallback == nil {
		fallback = HeuristicAnalyser{}
	}
	return &ModelBackedAnalyser{Client: client, Fallback: fallback, Logger: logger}
}

// Analyse implements Analyser.
func (a *ModelBackedAnalyser) Analyse(ctx context.Context, d resolve.Descriptor, content []byte) (Profile, error) {
	pages, err := a.Client.InferLayout(ctx, d, content)
	if err != nil {
		if a.Logger != nil {
			a.Logger.Warn("layout model inference failed, falling back to heuristic", zap.String("object_key", d.Key), zap.Error(err))
		}
		return a.Fallback.Analyse(ctx, d, content)
	}
	if len(pages) == 0 {
		return a.Fallback.Analyse(ctx, d, content)
	}
	return BuildProfile(d.Key, d.Bucket, d.MimeType, 0, pages), nil
}

// LayoutModelClient is the capability interface for an external
// CV/deep-learning layout analysis service.
type LayoutModelClient interface {
	InferLayout(ctx context.Context, d resolve.Descriptor, content []byte) ([]PageMetrics, error)
}

// ModelType enumerates the deep-learning models an HTTPLayoutModelClient may request.
type ModelType string

const (
	ModelLayoutLMv3      ModelType = "layoutlm_v3"
	ModelDocFormer       ModelType = "docformer"
	ModelTableDETR       ModelType = "table_detr"
	ModelFormClassifier  ModelType = "form_classifier"
)

// HTTPLayoutModelClient calls an external layout analysis HTTP endpoint.
type HTTPLayoutModelClient struct {
	endpoint   string
	apiKey     string
	modelType  ModelType
	httpClient *http.Client
	logger     *zap.Logger
	enabled    bool
}

// NewHTTPLayoutModelClient builds a client against endpoint. A blank
// endpoint yields a disabled client whose InferLayout always returns
// an empty result so callers fall straight through to their fallback.
func NewHTTPLayoutModelClient(endpoint, apiKey string, modelType ModelType, timeout time.Duration, logger *zap.Logger) *HTTPLayoutModelClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPLayoutModelClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		modelType:  modelType,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		enabled:    endpoint != "",
	}
}

// InferLayout implements LayoutModelClient.
func (c *HTTPLayoutModelClient) InferLayout(ctx context.Context, d resolve.Descriptor, content []byte) ([]PageMetrics, error) {
	if !c.enabled {
		return nil, nil
	}

	payload := jsonval.Map{
		"object_key": d.Key,
		"bucket":     d.Bucket,
		"mime_type":  d.MimeType,
		"page_count": InferPageCount(d.Body),
		"metadata":   jsonval.Get(d.Body, "documentMetadata"),
	}
	if c.modelType != "" {
		payload["model_type"] = string(c.modelType)
	}
	if len(content) > 0 {
		payload["document"] = base64.StdEncoding.EncodeToString(content)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal layout model request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build layout model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call layout model endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("layout model endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read layout model response: %w", err)
	}

	var decoded jsonval.Map
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode layout model response: %w", err)
	}

	var pages []PageMetrics
	for i, p := range jsonval.List(decoded, "pages") {
		pages = append(pages, PageMetricsFromPayload(i, jsonval.AsMap(p)))
	}
	return pages, nil
}

// PDFStructuralAnalyser derives page metrics from an actual PDF byte
// stream using each page's extracted character count: text density is
// the count over 3000 (clamped) and image density its complement. Table
// density is always 0 and no table, image or form-widget counts are set.
// It falls back to the wrapped Fallback analyser when the content is
// empty, cannot be parsed as a PDF, or yields no pages.
type PDFStructuralAnalyser struct {
	Fallback Analyser
}

// NewPDFStructuralAnalyser builds a PDFStructuralAnalyser, defaulting
// the fallback to HeuristicAnalyser.
func NewPDFStructuralAnalyser(fallback Analyser) *PDFStructuralAnalyser {
	if fallback == nil {
		fallback = HeuristicAnalyser{}
	}
	return &PDFStructuralAnalyser{Fallback: fallback}
}

// Analyse implements Analyser.
func (a *PDFStructuralAnalyser) Analyse(ctx context.Context, d resolve.Descriptor, content []byte) (Profile, error) {
	if len(content) == 0 {
		return a.Fallback.Analyse(ctx, d, content)
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return a.Fallback.Analyse(ctx, d, content)
	}

	numPages := reader.NumPage()
	pages := make([]PageMetrics, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, _ := page.GetPlainText(nil)
		charCount := len(strings.TrimSpace(text))
		// ledongthuc/pdf exposes text extraction only; table/image/widget
		// extents aren't available through this library, so those
		// densities are conservative fixed estimates rather than measured.
		textDensity := jsonval.Clamp01(float64(charCount) / 3000.0)
		pages = append(pages, PageMetrics{
			Index:        i - 1,
			TextDensity:  textDensity,
			ImageDensity: jsonval.Clamp01(1 - textDensity),
			TableDensity: 0,
			CharCount:    &charCount,
		})
	}

	if len(pages) == 0 {
		return a.Fallback.Analyse(ctx, d, content)
	}
	return BuildProfile(d.Key, d.Bucket, d.MimeType, 0, pages), nil
}

// EmailStructuralAnalyser derives per-part page metrics from an RFC822
// message: one PageMetrics per text/html or text/* MIME part.
type EmailStructuralAnalyser struct {
	Fallback Analyser
}

// NewEmailStructuralAnalyser builds an EmailStructuralAnalyser,
// defaulting the fallback to HeuristicAnalyser.
func NewEmailStructuralAnalyser(fallback Analyser) *EmailStructuralAnalyser {
	if fallback == nil {
		fallback = HeuristicAnalyser{}
	}
	return &EmailStructuralAnalyser{Fallback: fallback}
}

// Analyse implements Analyser.
func (a *EmailStructuralAnalyser) Analyse(ctx context.Context, d resolve.Descriptor, content []byte) (Profile, error) {
	if len(content) == 0 {
		return a.Fallback.Analyse(ctx, d, content)
	}

	msg, err := mail.ReadMessage(bytes.NewReader(content))
	if err != nil {
		return a.Fallback.Analyse(ctx, d, content)
	}

	var pages []PageMetrics
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(msg.Body, params["boundary"])
		index := 0
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
			data, _ := io.ReadAll(part)
			switch {
			case partType == "text/html" || partType == "application/xhtml+xml":
				pages = append(pages, htmlPartMetrics(index, data))
				index++
			case strings.HasPrefix(partType, "text/"):
				pages = append(pages, plainTextMetrics(index, string(data)))
				index++
			}
		}
	} else {
		data, _ := io.ReadAll(msg.Body)
		if strings.Contains(strings.ToLower(mediaType), "html") {
			pages = append(pages, htmlPartMetrics(0, data))
		} else {
			pages = append(pages, plainTextMetrics(0, string(data)))
		}
	}

	if len(pages) == 0 {
		pages = append(pages, plainTextMetrics(0, string(content)))
	}

	return BuildProfile(d.Key, d.Bucket, d.MimeType, 0, pages), nil
}

func plainTextMetrics(index int, text string) PageMetrics {
	charCount := len(strings.TrimSpace(text))
	return PageMetrics{
		Index:        index,
		TextDensity:  jsonval.Clamp01(float64(charCount) / 3000.0),
		ImageDensity: 0.05,
		TableDensity: 0,
		CharCount:    &charCount,
	}
}

func htmlPartMetrics(index int, data []byte) PageMetrics {
	tokenizer := html.NewTokenizer(bytes.NewReader(data))
	var textFragments strings.Builder
	var tableCount, imageCount, checkboxCount, radioCount int

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			switch token.Data {
			case "table":
				tableCount++
			case "img":
				imageCount++
			case "input":
				for _, attr := range token.Attr {
					if strings.ToLower(attr.Key) == "type" {
						switch strings.ToLower(attr.Val) {
						case "checkbox":
							checkboxCount++
						case "radio":
							radioCount++
						}
					}
				}
			}
		case html.TextToken:
			textFragments.WriteString(tokenizer.Token().Data)
		}
	}

	charCount := len(strings.TrimSpace(textFragments.String()))
	return PageMetrics{
		Index:            index,
		TextDensity:      jsonval.Clamp01(float64(charCount) / 4000.0),
		ImageDensity:     jsonval.Clamp01(float64(imageCount) * 0.1),
		TableDensity:     jsonval.Clamp01(float64(tableCount) * 0.25),
		CharCount:        &charCount,
		TableCount:       tableCount,
		ImageCount:       imageCount,
		CheckboxCount:    checkboxCount,
		RadioButtonCount: radioCount,
	}
}
