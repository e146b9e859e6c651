package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"docrouter/adapters"
	"docrouter/config"
	"docrouter/database"
	"docrouter/enrichment"
	"docrouter/external"
	"docrouter/ingestion"
	"docrouter/jsonval"
	"docrouter/layout"
	"docrouter/override"
	"docrouter/resolve"
	"docrouter/router"
	"docrouter/summarize"
	"docrouter/workflow"
)

func main() {
	logger, err := config.InitLogger()
	if err != nil {
		os.Exit(1)
	}
	defer config.Cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load(logger)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Fatal("failed to load AWS config", zap.Error(err))
	}

	store, err := database.NewStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure database schema", zap.Error(err))
	}

	resultStore := database.NewResultStore(store)
	overrideTableStore := database.NewOverrideTableStore(store, cfg.DeltaOverrideTable)
	metadataStore := database.NewMetadataStore(store)
	runSummary := database.NewRunSummarySink(metadataStore)

	secretStore := external.NewSecretStore(secretsmanager.NewFromConfig(awsCfg))
	overrides := override.NewTieredProvider(
		secretStore, cfg.StrategySecretsScope, cfg.StrategyOverrideSecret,
		overrideTableStore, cfg.ParserStrategyOverrides, logger,
	)

	objectStore := external.NewObjectStore(s3.NewFromConfig(awsCfg))
	resolverChain := resolve.NewChain(logger, resolve.InlineResolver{}, resolve.NewObjectStoreResolver(objectStore))

	layoutAnalyser := buildLayoutAnalyser(cfg, logger)
	routerCfg := buildRouterConfig(cfg)
	docRouter := router.New(routerCfg, layoutAnalyser, resolverChain)

	analyzeAPIKey, err := secretStore.GetSecret(ctx, cfg.LayoutModelSecretScope, cfg.LayoutModelSecretKey)
	if err != nil {
		logger.Warn("failed to fetch document-intelligence API key, proceeding unauthenticated", zap.Error(err))
	}
	analyzeClient := external.NewAzureAnalyzeClient(cfg.LayoutModelEndpoint, analyzeAPIKey, cfg.LayoutModelTimeoutSeconds)

	chatClient := external.NewChatCompletionClient(cfg.SummarizationLLMHost, "", cfg.SummarizationLLMModel, cfg.LayoutModelTimeoutSeconds)
	summarizer := summarize.NewDefaultSummarizer(chatClient, cfg.SummarizationLLMModel, logger)

	enrichmentDispatcher := enrichment.NewDispatcher(nil, logger)

	wf := workflow.New(analyzeClient, resultStore, workflow.Config{
		MaxRetries:           cfg.VendorMaxRetries,
		RetryBackoffSeconds:  cfg.VendorRetryBackoffSeconds,
		Adapter:              adapters.AzureAdapter{},
		Summarizer:           summarizer,
		EnrichmentDispatcher: enrichmentDispatcher,
	}.WithDefaults(), logger)

	processor := external.NewDocumentProcessor(wf, objectStore)

	sqsClient := external.NewSQSClient(sqs.NewFromConfig(awsCfg))
	loop := ingestion.New(sqsClient, overrides, docRouter, metadataStore, nil, processor, ingestion.Config{
		QueueURL:                cfg.IngestionQueueURL,
		Region:                  cfg.AWSRegion,
		MaxBatchSize:            cfg.MaxBatchSize,
		VisibilityTimeoutBuffer: cfg.VisibilityTimeoutBuffer,
		WaitTimeSeconds:         cfg.WaitTimeSeconds,
		PollIntervalSeconds:     cfg.PollIntervalSeconds,
		MaxBatches:              cfg.MaxBatches,
		DispatchJobID:           cfg.DispatchJobID,
		WorkerTaskParameters:    cfg.ParsedWorkerTaskParameters(),
		MetadataTable:           cfg.MetadataTable,
		RoutingMetadataTable:    cfg.RoutingMetadataTable,
	}, logger)

	logger.Info("starting ingestion loop", zap.String("queue_url", cfg.IngestionQueueURL))
	messages, batches, err := loop.Run(ctx)
	if err != nil {
		logger.Error("ingestion loop exited with error", zap.Error(err))
	}
	logger.Info("ingestion loop stopped", zap.Int("messages", messages), zap.Int("batches", batches))

	if err := runSummary.Record(context.Background(), cfg.MetadataTable, messages, batches, cfg.IngestionQueueURL); err != nil {
		logger.Warn("failed to record run summary", zap.Error(err))
	}
}

func buildLayoutAnalyser(cfg *config.Config, logger *zap.Logger) layout.Analyser {
	base := layout.HeuristicAnalyser{}
	pdfAnalyser := layout.NewPDFStructuralAnalyser(base)
	emailAnalyser := layout.NewEmailStructuralAnalyser(pdfAnalyser)
	if cfg.LayoutModelEndpoint == "" {
		return emailAnalyser
	}
	modelClient := layout.NewHTTPLayoutModelClient(cfg.LayoutModelEndpoint, cfg.LayoutModelSecretKey, layout.ModelLayoutLMv3, cfg.LayoutModelTimeoutSeconds, logger)
	return layout.NewModelBackedAnalyser(modelClient, emailAnalyser, logger)
}

func buildRouterConfig(cfg *config.Config) router.Config {
	routerCfg := router.NewConfig()
	if cfg.RoutingMode == string(router.ModeStatic) {
		routerCfg.Mode = router.ModeStatic
	}
	if cfg.RequestOverrideFlag != "" {
		routerCfg.RequestOverrideFlag = cfg.RequestOverrideFlag
	}
	if cfg.StaticRoutingStrategy != "" {
		strategy := router.StrategyConfig{Name: cfg.StaticRoutingStrategy}
		routerCfg.StaticStrategy = &strategy
	}

	for category, raw := range cfg.ParsedDefaultStrategyMap() {
		if m := jsonval.AsMap(raw); m != nil {
			routerCfg.DefaultStrategyMap[router.Category(category)] = router.StrategyConfigFromMapping(m)
		}
	}

	thresholds := cfg.ParsedCategoryThresholds()
	if v, ok := jsonval.Float(thresholds, "scanned_page_ratio"); ok {
		routerCfg.ScannedPageRatioThreshold = v
	}
	if v, ok := jsonval.Float(thresholds, "table_page_ratio"); ok {
		routerCfg.TablePageRatioThreshold = v
	}
	if v, ok := jsonval.Float(thresholds, "form_page_ratio"); ok {
		routerCfg.FormPageRatioThreshold = v
	}
	if v, ok := jsonval.Float(thresholds, "short_form_min_text_density"); ok {
		routerCfg.ShortFormMinTextDensity = v
	}
	if v, ok := jsonval.Int(thresholds, "long_form_threshold"); ok {
		routerCfg.LongFormThreshold = v
	}
	if v, ok := jsonval.Int(thresholds, "short_form_threshold"); ok {
		routerCfg.ShortFormThreshold = v
	}

	return routerCfg
}
