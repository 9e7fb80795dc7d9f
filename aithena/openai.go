package aithena

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// CompletionProvider is the subset of the OpenAI client the bot uses.
// *openai.Client implements this interface; tests substitute mocks.
type CompletionProvider interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
	CreateImage(
		ctx context.Context,
		request openai.ImageRequest,
	) (openai.ImageResponse, error)
}

// OpenAI manages OpenAI API calls and orchestrates each metered request:
// access check, provider call, usage accounting, and persistence, in that
// order.
//
// Provider errors and denied requests are converted into failed exchange
// records with zero cost, never returned as errors; the only error either
// request method returns wraps [ErrPersistence], which callers should
// treat as fatal for the request.
type OpenAI struct {
	client         CompletionProvider
	config         *OpenAIConfig
	appConfig      *Config
	logger         *slog.Logger
	requestLimiter *rate.Limiter

	ledger *UsageLedger
	policy *AccessPolicy
	store  ExchangeStore
	costs  *CostTable
}

func newOpenAI(
	config *Config,
	ledger *UsageLedger,
	policy *AccessPolicy,
	store ExchangeStore,
	httpClient *http.Client,
) *OpenAI {
	o := &OpenAI{
		config:    config.OpenAI,
		appConfig: config,
		ledger:    ledger,
		policy:    policy,
		store:     store,
		costs:     NewCostTable(),
	}
	o.logger = slog.New(newLogHandler(o.config.LogLevel)).With(
		loggerNameKey, "openai",
	)

	rps := o.config.MaxRequestsPerSecond
	if rps <= 0 {
		rps = DefaultOpenAIMaxRequestsPerSecond
	}
	o.requestLimiter = rate.NewLimiter(rate.Limit(rps), 1)

	clientCfg := openai.DefaultConfig(o.config.Token)
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	o.client = openai.NewClientWithConfig(clientCfg)

	return o
}

// ChatCompletion runs one end-to-end chat request for the given user and
// returns the resulting exchange, which has already been persisted. The
// exchange's Success flag and Response field carry the outcome, including
// denial and provider-failure detail.
func (o *OpenAI) ChatCompletion(
	ctx context.Context,
	userID uint64,
	model string,
	prompt string,
) (*ChatExchange, error) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = o.logger
	}
	if model == "" {
		model = o.config.ChatModel
	}
	exchange := NewChatExchange(userID, &model, prompt)

	log.InfoContext(
		ctx, "chat requested",
		"user_id", userID, "model", model, "prompt", prompt,
	)

	if !o.policy.CanProceed(userID) {
		exchange.Success = false
		exchange.Response = o.limitExceededMessage(ctx, userID)
		log.WarnContext(
			ctx, "chat request denied",
			"user_id", userID, "response", exchange.Response,
		)
		return exchange, o.store.SaveChatExchange(persistContext(ctx), exchange)
	}

	completion, err := o.createChatCompletion(ctx, model, prompt)
	if err != nil {
		// recovered locally: the failed exchange is the record of it
		exchange.Success = false
		exchange.Response = fmt.Sprintf("failed to get response: %s", err)
		log.ErrorContext(ctx, "chat completion failed", tint.Err(err))
		return exchange, o.store.SaveChatExchange(persistContext(ctx), exchange)
	}

	exchange.Success = true
	exchange.Response = "GPT returned no response"
	if len(completion.Choices) > 0 {
		exchange.Response = completion.Choices[0].Message.Content
	}
	exchange.RequestTokens = completion.Usage.PromptTokens
	exchange.ResponseTokens = completion.Usage.CompletionTokens
	exchange.TotalTokens = completion.Usage.TotalTokens
	exchange.Cost = o.costs.ChatCost(
		model,
		exchange.RequestTokens,
		exchange.ResponseTokens,
	)

	o.ledger.Record(
		UsageEvent{
			UserID:         userID,
			Kind:           UsageKindChat,
			Cost:           exchange.Cost,
			RequestTokens:  exchange.RequestTokens,
			ResponseTokens: exchange.ResponseTokens,
			TotalTokens:    exchange.TotalTokens,
			Timestamp:      exchange.Timestamp,
		},
	)

	log.InfoContext(
		ctx, "chat completed",
		"user_id", userID,
		"total_tokens", exchange.TotalTokens,
		"cost", exchange.Cost,
	)
	return exchange, o.store.SaveChatExchange(persistContext(ctx), exchange)
}

// GenerateImage runs one end-to-end image generation request and returns
// the persisted exchange. Empty model/size/quality fall back to config
// defaults; empty quality/style are stored as NULL.
func (o *OpenAI) GenerateImage(
	ctx context.Context,
	userID uint64,
	prompt string,
	model string,
	size string,
	quality string,
	style string,
) (*ImageExchange, error) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = o.logger
	}
	if model == "" {
		model = o.config.ImageModel
	}
	if size == "" {
		size = DefaultImageSize
	}
	if quality == "" {
		quality = DefaultImageQuality
	}
	exchange := NewImageExchange(
		userID,
		&model,
		optString(quality),
		optString(style),
		size,
		prompt,
	)

	log.InfoContext(
		ctx, "image requested",
		"user_id", userID,
		"model", model, "size", size, "quality", quality, "style", style,
		"prompt", prompt,
	)

	if !o.policy.CanProceed(userID) {
		exchange.Success = false
		exchange.Exception = optString(o.limitExceededMessage(ctx, userID))
		log.WarnContext(ctx, "image request denied", "user_id", userID)
		return exchange, o.store.SaveImageExchange(persistContext(ctx), exchange)
	}

	images, err := o.createImage(ctx, model, size, quality, style, prompt)
	if err != nil {
		exchange.Success = false
		exchange.Exception = optString(err.Error())
		log.ErrorContext(ctx, "image generation failed", tint.Err(err))
		return exchange, o.store.SaveImageExchange(persistContext(ctx), exchange)
	}

	exchange.Success = true
	if len(images.Data) > 0 {
		exchange.URL = images.Data[0].URL
	}
	exchange.Cost = o.costs.ImageCost(model, quality, size, 1)

	o.ledger.Record(
		UsageEvent{
			UserID:     userID,
			Kind:       UsageKindImage,
			Cost:       exchange.Cost,
			ImageCount: 1,
			Timestamp:  exchange.Timestamp,
		},
	)

	log.InfoContext(
		ctx, "image generated",
		"user_id", userID, "url", exchange.URL, "cost", exchange.Cost,
	)
	return exchange, o.store.SaveImageExchange(persistContext(ctx), exchange)
}

func (o *OpenAI) createChatCompletion(
	ctx context.Context,
	model string,
	prompt string,
) (openai.ChatCompletionResponse, error) {
	ctx, cancel := o.requestContext(ctx)
	defer cancel()
	if err := o.requestLimiter.Wait(ctx); err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	return o.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
		},
	)
}

func (o *OpenAI) createImage(
	ctx context.Context,
	model string,
	size string,
	quality string,
	style string,
	prompt string,
) (openai.ImageResponse, error) {
	ctx, cancel := o.requestContext(ctx)
	defer cancel()
	if err := o.requestLimiter.Wait(ctx); err != nil {
		return openai.ImageResponse{}, err
	}
	return o.client.CreateImage(
		ctx,
		openai.ImageRequest{
			Prompt:  prompt,
			Model:   model,
			N:       1,
			Size:    size,
			Quality: quality,
			Style:   style,
		},
	)
}

func (o *OpenAI) requestContext(ctx context.Context) (
	context.Context,
	context.CancelFunc,
) {
	timeout := o.config.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultOpenAIRequestTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// limitExceededMessage describes the denial, with the user's current
// windowed usage for display.
func (o *OpenAI) limitExceededMessage(ctx context.Context, userID uint64) string {
	limit, interval := o.appConfig.UsageLimit()
	msg := fmt.Sprintf(
		"exceeded API usage limit of %s per %d hours",
		formatDollarString(limit),
		int(interval.Hours()),
	)
	usage, err := o.store.APIUsage(ctx, &userID, true)
	if err != nil {
		o.logger.ErrorContext(
			ctx,
			"error getting usage for limit message",
			tint.Err(err),
		)
		return msg
	}
	return fmt.Sprintf("%s:\n```\n%s\n```", msg, usage)
}

// persistContext detaches the persist step from command cancellation so a
// timed-out provider call still leaves an audit record, while keeping the
// store's own operation timeout.
func persistContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
