//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package openai provides an OpenAI-compatible model.Model.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"golang.org/x/time/rate"

	"trpc.group/trpc-go/trpc-agent-graph/log"
	"trpc.group/trpc-go/trpc-agent-graph/model"
	"trpc.group/trpc-go/trpc-agent-graph/tool"
)

const (
	// defaultChannelBufferSize is the default channel buffer size.
	defaultChannelBufferSize = 1
	// defaultMaxRetries is the number of retries the client performs on
	// 408, 409, 429 and 5xx answers.
	defaultMaxRetries = 2
	defaultTimeout    = 60 * time.Second
)

// HTTPClient is the interface for the HTTP client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPClientNewFunc is the function type for creating a new HTTP client.
type HTTPClientNewFunc func(opts ...HTTPClientOption) HTTPClient

// DefaultNewHTTPClient is the default HTTP client for OpenAI.
var DefaultNewHTTPClient HTTPClientNewFunc = func(opts ...HTTPClientOption) HTTPClient {
	options := &HTTPClientOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return &http.Client{
		Transport: options.Transport,
		Timeout:   options.Timeout,
	}
}

// HTTPClientOption is the option for the HTTP client.
type HTTPClientOption func(*HTTPClientOptions)

// WithHTTPClientTransport is the option for the HTTP client transport.
func WithHTTPClientTransport(transport http.RoundTripper) HTTPClientOption {
	return func(options *HTTPClientOptions) {
		options.Transport = transport
	}
}

// WithHTTPClientTimeout bounds every HTTP round trip.
func WithHTTPClientTimeout(d time.Duration) HTTPClientOption {
	return func(options *HTTPClientOptions) {
		options.Timeout = d
	}
}

// HTTPClientOptions is the options for the HTTP client.
type HTTPClientOptions struct {
	Transport http.RoundTripper
	Timeout   time.Duration
}

// ChatRequestCallbackFunc is called before a chat request is sent.
type ChatRequestCallbackFunc func(ctx context.Context, chatRequest *openai.ChatCompletionNewParams)

// ChatResponseCallbackFunc is called after a chat response arrived, also on
// failure.
type ChatResponseCallbackFunc func(
	ctx context.Context,
	chatRequest *openai.ChatCompletionNewParams,
	chatResponse *openai.ChatCompletion,
)

// Model implements model.Model on the chat completions API.
type Model struct {
	client               openai.Client
	name                 string
	baseURL              string
	apiKey               string
	channelBufferSize    int
	limiter              *rate.Limiter
	chatRequestCallback  ChatRequestCallbackFunc
	chatResponseCallback ChatResponseCallbackFunc
	extraFields          map[string]any
}

type options struct {
	APIKey               string
	BaseURL              string
	ChannelBufferSize    int
	MaxRetries           int
	RequestsPerSecond    float64
	Burst                int
	ChatRequestCallback  ChatRequestCallbackFunc
	ChatResponseCallback ChatResponseCallbackFunc
	HTTPClientOptions    []HTTPClientOption
	OpenAIOptions        []openaiopt.RequestOption
	ExtraFields          map[string]any
}

// Option is a function that configures an OpenAI model.
type Option func(*options)

// WithAPIKey sets the API key for the OpenAI client.
func WithAPIKey(key string) Option {
	return func(o *options) { o.APIKey = key }
}

// WithBaseURL sets the base URL for the OpenAI client.
func WithBaseURL(url string) Option {
	return func(o *options) { o.BaseURL = url }
}

// WithChannelBufferSize sets the buffer size of the response channel.
func WithChannelBufferSize(size int) Option {
	return func(o *options) {
		if size <= 0 {
			size = defaultChannelBufferSize
		}
		o.ChannelBufferSize = size
	}
}

// WithMaxRetries sets how often the client retries retryable answers.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.MaxRetries = n }
}

// WithRateLimit allows rps requests per second with the given burst. Calls
// over the limit wait for a token or fail once ctx is done.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		o.RequestsPerSecond = rps
		o.Burst = burst
	}
}

// WithChatRequestCallback sets the function to be called before sending a chat request.
func WithChatRequestCallback(fn ChatRequestCallbackFunc) Option {
	return func(o *options) { o.ChatRequestCallback = fn }
}

// WithChatResponseCallback sets the function to be called after receiving a chat response.
func WithChatResponseCallback(fn ChatResponseCallbackFunc) Option {
	return func(o *options) { o.ChatResponseCallback = fn }
}

// WithHTTPClientOptions sets the HTTP client options for the OpenAI client.
func WithHTTPClientOptions(httpOpts ...HTTPClientOption) Option {
	return func(o *options) { o.HTTPClientOptions = append(o.HTTPClientOptions, httpOpts...) }
}

// WithOpenAIOptions appends raw request options, e.g. middleware.
func WithOpenAIOptions(openaiOpts ...openaiopt.RequestOption) Option {
	return func(o *options) { o.OpenAIOptions = append(o.OpenAIOptions, openaiOpts...) }
}

// WithExtraFields sets fields added to the body of every chat request.
func WithExtraFields(extraFields map[string]any) Option {
	return func(o *options) {
		if o.ExtraFields == nil {
			o.ExtraFields = make(map[string]any, len(extraFields))
		}
		for k, v := range extraFields {
			o.ExtraFields[k] = v
		}
	}
}

// New creates a new OpenAI-like model.
func New(name string, opts ...Option) *Model {
	o := &options{
		ChannelBufferSize: defaultChannelBufferSize,
		MaxRetries:        defaultMaxRetries,
		HTTPClientOptions: []HTTPClientOption{WithHTTPClientTimeout(defaultTimeout)},
	}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []openaiopt.RequestOption
	if o.APIKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.BaseURL))
	}
	clientOpts = append(clientOpts,
		openaiopt.WithHTTPClient(DefaultNewHTTPClient(o.HTTPClientOptions...)),
		openaiopt.WithMaxRetries(o.MaxRetries),
	)
	clientOpts = append(clientOpts, o.OpenAIOptions...)

	var limiter *rate.Limiter
	if o.RequestsPerSecond > 0 {
		burst := o.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(o.RequestsPerSecond), burst)
	}

	return &Model{
		client:               openai.NewClient(clientOpts...),
		name:                 name,
		baseURL:              o.BaseURL,
		apiKey:               o.APIKey,
		channelBufferSize:    o.ChannelBufferSize,
		limiter:              limiter,
		chatRequestCallback:  o.ChatRequestCallback,
		chatResponseCallback: o.ChatResponseCallback,
		extraFields:          o.ExtraFields,
	}
}

// Info implements the model.Model interface.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name}
}

// GenerateContent implements the model.Model interface. The answer, or the
// classified failure, is delivered as a single response.
func (m *Model) GenerateContent(ctx context.Context, request *model.Request) (<-chan *model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}

	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: m.convertMessages(request.Messages),
		Tools:    m.convertTools(request.Tools),
	}
	// MaxTokens is deprecated and not compatible with o-series models.
	if request.MaxTokens != nil {
		chatRequest.MaxCompletionTokens = openai.Int(int64(*request.MaxTokens))
	}
	if request.Temperature != nil {
		chatRequest.Temperature = openai.Float(*request.Temperature)
	}
	if request.TopP != nil {
		chatRequest.TopP = openai.Float(*request.TopP)
	}
	if len(request.Stop) > 0 {
		// Only the first stop sequence is sent.
		chatRequest.Stop = openai.ChatCompletionNewParamsStopUnion{OfString: openai.String(request.Stop[0])}
	}
	var opts []openaiopt.RequestOption
	for key, value := range m.extraFields {
		opts = append(opts, openaiopt.WithJSONSet(key, value))
	}

	responseChan := make(chan *model.Response, m.channelBufferSize)
	go func() {
		defer close(responseChan)
		if m.chatRequestCallback != nil {
			m.chatRequestCallback(ctx, &chatRequest)
		}
		rsp := m.complete(ctx, chatRequest, opts...)
		select {
		case responseChan <- rsp:
		case <-ctx.Done():
		}
	}()
	return responseChan, nil
}

func (m *Model) complete(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	opts ...openaiopt.RequestOption,
) *model.Response {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return errorResponse(model.ErrorTypeRateLimited, fmt.Errorf("rate limiter: %w", err))
		}
	}
	chatCompletion, err := m.client.Chat.Completions.New(ctx, chatRequest, opts...)
	if m.chatResponseCallback != nil {
		m.chatResponseCallback(ctx, &chatRequest, chatCompletion)
	}
	if err != nil {
		errType := classifyError(err)
		log.Warnf("openai: model %s request failed (%s): %v", m.name, errType, err)
		return errorResponse(errType, err)
	}
	return convertCompletion(chatCompletion)
}

func errorResponse(errType string, err error) *model.Response {
	return &model.Response{
		Object:    model.ObjectTypeError,
		Error:     &model.ResponseError{Message: err.Error(), Type: errType},
		Timestamp: time.Now(),
		Done:      true,
	}
}

// classifyError maps a client failure to a model error type.
func classifyError(err error) string {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return model.ErrorTypeRateLimited
		case apiErr.StatusCode >= http.StatusInternalServerError,
			apiErr.StatusCode == http.StatusRequestTimeout:
			return model.ErrorTypeNetwork
		}
		return model.ErrorTypeAPIError
	}
	var (
		netErr    net.Error
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return model.ErrorTypeNetwork
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return model.ErrorTypeMalformedResponse
	}
	return model.ErrorTypeAPIError
}

func convertCompletion(chatCompletion *openai.ChatCompletion) *model.Response {
	response := &model.Response{
		ID:        chatCompletion.ID,
		Object:    string(chatCompletion.Object),
		Created:   chatCompletion.Created,
		Model:     chatCompletion.Model,
		Timestamp: time.Now(),
		Done:      true,
	}
	if len(chatCompletion.Choices) > 0 {
		response.Choices = make([]model.Choice, len(chatCompletion.Choices))
		for i, choice := range chatCompletion.Choices {
			msg := model.Message{Role: model.RoleAssistant, Content: choice.Message.Content}
			for j, toolCall := range choice.Message.ToolCalls {
				id := toolCall.ID
				if id == "" {
					// Some providers omit the id.
					id = fmt.Sprintf("auto_call_%d", j)
				}
				msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
					ID:   id,
					Type: string(toolCall.Type),
					Function: model.FunctionDefinitionParam{
						Name:      toolCall.Function.Name,
						Arguments: []byte(toolCall.Function.Arguments),
					},
				})
			}
			response.Choices[i] = model.Choice{Index: int(choice.Index), Message: msg}
			if choice.FinishReason != "" {
				finishReason := choice.FinishReason
				response.Choices[i].FinishReason = &finishReason
			}
		}
	}
	if chatCompletion.Usage.PromptTokens > 0 || chatCompletion.Usage.CompletionTokens > 0 {
		response.Usage = &model.Usage{
			PromptTokens:     int(chatCompletion.Usage.PromptTokens),
			CompletionTokens: int(chatCompletion.Usage.CompletionTokens),
			TotalTokens:      int(chatCompletion.Usage.TotalTokens),
		}
	}
	return response
}

// convertMessages converts our Message format to OpenAI's format.
func (m *Model) convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result[i] = openai.SystemMessage(msg.Content)
		case model.RoleAssistant:
			assistant := &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: m.convertToolCalls(msg.ToolCalls),
			}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			result[i] = openai.ChatCompletionMessageParamUnion{OfAssistant: assistant}
		case model.RoleTool:
			result[i] = openai.ToolMessage(msg.Content, msg.ToolID)
		default: // Unknown roles are sent as user messages.
			result[i] = openai.UserMessage(msg.Content)
		}
	}
	return result
}

func (m *Model) convertToolCalls(toolCalls []model.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	var result []openai.ChatCompletionMessageToolCallParam
	for _, toolCall := range toolCalls {
		result = append(result, openai.ChatCompletionMessageToolCallParam{
			ID: toolCall.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      toolCall.Function.Name,
				Arguments: string(toolCall.Function.Arguments),
			},
		})
	}
	return result
}

// convertTools declares tools sorted by name so requests are stable.
func (m *Model) convertTools(tools map[string]tool.Tool) []openai.ChatCompletionToolParam {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var result []openai.ChatCompletionToolParam
	for _, name := range names {
		declaration := tools[name].Declaration()
		schemaBytes, err := json.Marshal(declaration.InputSchema)
		if err != nil {
			log.Errorf("failed to marshal tool schema for %s: %v", declaration.Name, err)
			continue
		}
		var parameters shared.FunctionParameters
		if err := json.Unmarshal(schemaBytes, &parameters); err != nil {
			log.Errorf("failed to unmarshal tool schema for %s: %v", declaration.Name, err)
			continue
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        declaration.Name,
				Description: openai.String(declaration.Description),
				Parameters:  parameters,
			},
		})
	}
	return result
}
