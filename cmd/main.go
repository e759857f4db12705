package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"satcom-gateway/handler"
	"satcom-gateway/internal/conversation"
	"satcom-gateway/internal/garmin"
	"satcom-gateway/internal/integrations/gemini"
	"satcom-gateway/internal/integrations/paramstore"
	"satcom-gateway/internal/logging"
	"satcom-gateway/internal/mailparse"
	"satcom-gateway/internal/pipeline"
	"satcom-gateway/internal/repository"
	"satcom-gateway/internal/retry"
	"satcom-gateway/internal/toolbox"
	"satcom-gateway/internal/usecase"
)

const (
	modeLambda = "lambda"
	modeCron   = "cron"
	modeReplay = "replay"
)

type settings struct {
	mode             string
	geminiModel      string
	compressModel    string
	maxRetries       int
	conversationTTL  time.Duration
	retryTTL         time.Duration
	batchSize        int
	pageDelay        time.Duration
	simulate         bool
	sweepProbability float64
	trustedSenders   []string
	cronSchedule     string
	sweepSchedule    string
}

// stores is the storage and key material a gateway runs on.
type stores struct {
	kv    repository.KeyValue
	inbox usecase.Inbox
	keys  *gemini.KeySource
}

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	logger := logging.New(os.Stdout, os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	s := settings{
		mode:             strings.ToLower(envString("RUN_MODE", modeLambda)),
		geminiModel:      envString("GEMINI_MODEL", "gemini-flash-latest"),
		maxRetries:       envInt("MAX_RETRIES", retry.DefaultCeiling),
		conversationTTL:  time.Duration(envInt("CONVERSATION_EXPIRY_HOURS", 24)) * time.Hour,
		retryTTL:         time.Duration(envInt("RETRY_TTL_DAYS", 7)) * 24 * time.Hour,
		batchSize:        envInt("BATCH_SIZE", 10),
		pageDelay:        time.Duration(envInt("PAGE_DELAY_MS", 5000)) * time.Millisecond,
		simulate:         envBool("SIMULATE_DELIVERY", false),
		sweepProbability: envFloat("SWEEP_PROBABILITY", 0.1),
		trustedSenders:   envList("TRUSTED_SENDERS", []string{"no.reply.inreach@garmin.com"}),
		cronSchedule:     envString("CRON_SCHEDULE", "@every 2m"),
		sweepSchedule:    envString("SWEEP_SCHEDULE", "@hourly"),
	}
	s.compressModel = envString("COMPRESS_MODEL", s.geminiModel)

	if s.mode == modeReplay {
		os.Exit(replay(ctx, s, logger))
	}

	st := awsStores(ctx, 2*s.retryTTL, logger)
	gw := buildGateway(s, st, logger)

	switch s.mode {
	case modeCron:
		runCron(s, gw, logger)
	case modeLambda:
		h, err := handler.NewHandler(gw, st.inbox, s.trustedSenders, logger)
		if err != nil {
			logger.Error("failed to create handler", "err", err)
			os.Exit(1)
		}
		lambda.Start(h.Handle)
	default:
		logger.Error("unknown RUN_MODE", "mode", s.mode)
		os.Exit(1)
	}
}

// awsStores wires DynamoDB and SSM. itemTTL places the native TTL backstop
// well past the sweeps so records are normally removed by the sweeps first.
func awsStores(ctx context.Context, itemTTL time.Duration, logger *slog.Logger) stores {
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		logger.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	keys, err := gemini.NewKeySource(ssmClient, paramPrefix)
	if err != nil {
		logger.Error("failed to create key source", "err", err)
		os.Exit(1)
	}

	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	kv, err := repository.New(dynamoClient, stateTable, repository.WithItemTTL(itemTTL))
	if err != nil {
		logger.Error("failed to create state store", "err", err)
		os.Exit(1)
	}
	inbox, err := repository.NewInbox(dynamoClient, stateTable)
	if err != nil {
		logger.Error("failed to create inbox", "err", err)
		os.Exit(1)
	}
	return stores{kv: kv, inbox: inbox, keys: keys}
}

func buildGateway(s settings, st stores, logger *slog.Logger) *usecase.Gateway {
	ledger, err := retry.NewLedger(st.kv, logger)
	if err != nil {
		logger.Error("failed to create retry ledger", "err", err)
		os.Exit(1)
	}
	conversations, err := conversation.NewStore(st.kv, s.conversationTTL, logger)
	if err != nil {
		logger.Error("failed to create conversation store", "err", err)
		os.Exit(1)
	}

	// ---- Model ----
	analyzer, err := gemini.NewInteractionsClient(st.keys, gemini.WithModel(s.geminiModel), gemini.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create interactions client", "err", err)
		os.Exit(1)
	}
	compressor, err := gemini.NewGenerateClient(st.keys, s.compressModel)
	if err != nil {
		logger.Error("failed to create generate client", "err", err)
		os.Exit(1)
	}
	generator, err := pipeline.New(analyzer, compressor, logger)
	if err != nil {
		logger.Error("failed to create pipeline", "err", err)
		os.Exit(1)
	}

	// ---- Tools ----
	opt := toolbox.WithLogger(logger)
	tools, err := toolbox.New(toolbox.Tools{
		Reference: toolbox.NewWikipedia(opt),
		News:      toolbox.NewNews(opt),
		Geocoder:  toolbox.NewGeocoder(opt),
		Weather:   toolbox.NewWeather(opt),
		Alerts:    toolbox.NewDisasters(opt),
	}, logger)
	if err != nil {
		logger.Error("failed to create toolbox", "err", err)
		os.Exit(1)
	}

	delivery := garmin.New(
		garmin.WithSimulate(s.simulate),
		garmin.WithPageDelay(s.pageDelay),
		garmin.WithLogger(logger),
	)

	gw, err := usecase.NewGateway(usecase.Dependencies{
		Inbox:         st.inbox,
		Ledger:        ledger,
		Conversations: conversations,
		Toolbox:       tools,
		Generator:     generator,
		Delivery:      delivery,
	}, usecase.Config{
		MaxRetries:       s.maxRetries,
		RetryTTL:         s.retryTTL,
		BatchSize:        s.batchSize,
		SweepProbability: s.sweepProbability,
	}, logger)
	if err != nil {
		logger.Error("failed to create gateway", "err", err)
		os.Exit(1)
	}
	return gw
}

// runCron polls the inbox and runs the sweeps on local schedules until the
// process is signalled.
func runCron(s settings, gw *usecase.Gateway, logger *slog.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(s.cronSchedule, func() {
		if _, err := gw.RunBatch(ctx); err != nil {
			logger.Error("batch failed", "err", err)
		}
	}); err != nil {
		logger.Error("invalid CRON_SCHEDULE", "schedule", s.cronSchedule, "err", err)
		os.Exit(1)
	}
	if _, err := c.AddFunc(s.sweepSchedule, func() {
		if _, err := gw.Sweep(ctx); err != nil {
			logger.Error("sweep failed", "err", err)
		}
	}); err != nil {
		logger.Error("invalid SWEEP_SCHEDULE", "schedule", s.sweepSchedule, "err", err)
		os.Exit(1)
	}

	logger.Info("scheduler started", "batch", s.cronSchedule, "sweep", s.sweepSchedule)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("scheduler stopped")
}

// replay runs one raw mail from stdin through a gateway on in-memory stores
// with delivery simulated. The key comes from GEMINI_API_KEY, or from
// Parameter Store when PARAM_PREFIX is set.
func replay(ctx context.Context, s settings, logger *slog.Logger) int {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		logger.Error("failed to read stdin", "err", err)
		return 1
	}
	msg, err := mailparse.Parse(raw, time.Now())
	if err != nil {
		logger.Error("failed to parse mail", "err", err)
		return 1
	}
	if msg.ID == "" {
		msg.ID = "replay-" + uuid.NewString()
	}

	keys := gemini.StaticKey(os.Getenv("GEMINI_API_KEY"))
	if prefix := os.Getenv("PARAM_PREFIX"); os.Getenv("GEMINI_API_KEY") == "" && prefix != "" {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error("failed to load AWS config", "err", err)
			return 1
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
		if err != nil {
			logger.Error("failed to create SSM client", "err", err)
			return 1
		}
		if keys, err = gemini.NewKeySource(ssmClient, prefix); err != nil {
			logger.Error("failed to create key source", "err", err)
			return 1
		}
	}

	inbox := repository.NewMemoryInbox()
	if _, err := inbox.Enqueue(ctx, msg); err != nil {
		logger.Error("failed to enqueue", "err", err)
		return 1
	}
	s.simulate = true
	s.sweepProbability = 0
	gw := buildGateway(s, stores{kv: repository.NewMemoryStore(), inbox: inbox, keys: keys}, logger)

	report, err := gw.RunBatch(ctx)
	if err != nil {
		logger.Error("batch failed", "err", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return 1
	}
	return 0
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
