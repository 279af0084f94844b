// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bedrock implements the AWS Bedrock adapter using aws-sdk-go-v2,
// which signs every call with SigV4 from the default credential chain or
// static keys.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm"
)

const (
	DefaultModel       = "anthropic.claude-3-haiku-20240307-v1:0"
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7
	DefaultTimeout     = 60 * time.Second
)

func init() {
	llm.RegisterFactory(llm.ProviderTypeBedrock, NewFromConfig)
}

// InvokeModelAPI is the subset of *bedrockruntime.Client the adapter uses.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Provider implements llm.Provider for AWS Bedrock.
type Provider struct {
	name        string
	region      string
	model       string
	client      InvokeModelAPI
	credentials aws.CredentialsProvider
}

// Config holds configuration for the Bedrock provider.
type Config struct {
	Name   string
	Region string
	Model  string

	// AccessKeyID and SecretAccessKey are optional static credentials.
	// When empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// Client overrides the SDK client (tests).
	Client InvokeModelAPI
	// Credentials overrides the credential provider used by HealthCheck (tests).
	Credentials aws.CredentialsProvider
}

// NewProvider loads AWS configuration and creates the Bedrock runtime client.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("bedrock region is required")
	}
	if cfg.Name == "" {
		cfg.Name = string(llm.ProviderTypeBedrock)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if detectModelFamily(cfg.Model) == "" {
		return nil, fmt.Errorf("unsupported bedrock model family: %s", cfg.Model)
	}

	p := &Provider{
		name:        cfg.Name,
		region:      cfg.Region,
		model:       cfg.Model,
		client:      cfg.Client,
		credentials: cfg.Credentials,
	}
	if p.client != nil {
		return p, nil
	}

	optFns := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	p.client = bedrockruntime.NewFromConfig(awsCfg)
	if p.credentials == nil {
		p.credentials = awsCfg.Credentials
	}
	return p, nil
}

// NewFromConfig is the llm.ProviderFactory for Bedrock. A credential of the
// form "ACCESS_KEY_ID:SECRET_ACCESS_KEY" selects static credentials.
func NewFromConfig(cfg llm.ProviderConfig) (llm.Provider, error) {
	c := Config{Name: cfg.Name, Region: cfg.Region, Model: cfg.Model}
	if id, secret, ok := strings.Cut(cfg.APIKey, ":"); ok {
		c.AccessKeyID, c.SecretAccessKey = id, secret
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return NewProvider(ctx, c)
}

func (p *Provider) Name() string           { return p.name }
func (p *Provider) Type() llm.ProviderType { return llm.ProviderTypeBedrock }

// Generate invokes the configured model with a family-specific body.
func (p *Provider) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (*llm.GenerateResult, error) {
	start := time.Now()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	family := detectModelFamily(p.model)
	body, err := buildRequestBody(family, prompt, llm.BuildSystemPrompt(opts),
		opts.MaxTokensOr(DefaultMaxTokens), opts.TemperatureOr(DefaultTemperature))
	if err != nil {
		return nil, llm.NewProviderError(p.name, llm.ErrCodeInvalidRequest, err.Error())
	}

	requestJSON, err := json.Marshal(body)
	if err != nil {
		return nil, llm.WrapError(p.name, fmt.Errorf("failed to marshal request: %w", err))
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, p.wrapAPIError(err)
	}

	text, tokens, err := parseResponseBody(family, output.Body)
	if err != nil {
		return nil, llm.WrapError(p.name, err)
	}
	if text == "" {
		return nil, llm.NewProviderError(p.name, llm.ErrCodeEmptyResponse, "response contained no text")
	}
	if tokens == 0 {
		tokens = llm.EstimateTokens(prompt) + llm.EstimateTokens(text)
	}

	return &llm.GenerateResult{
		Response:   text,
		TokensUsed: tokens,
		Latency:    time.Since(start),
		Model:      p.model,
	}, nil
}

// HealthCheck verifies that AWS credentials can be resolved for the region.
// Bedrock runtime has no free probe call, so a billable InvokeModel is avoided.
func (p *Provider) HealthCheck(ctx context.Context) (bool, error) {
	if p.region == "" || p.client == nil {
		return false, errors.New("bedrock client not configured")
	}
	if p.credentials == nil {
		return true, nil
	}
	creds, err := p.credentials.Retrieve(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}
	if creds.Expired() {
		return false, errors.New("AWS credentials expired")
	}
	return true, nil
}

func (p *Provider) wrapAPIError(err error) *llm.ProviderError {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := llm.ErrCodeServerError
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceQuotaExceededException":
			code = llm.ErrCodeRateLimit
		case "AccessDeniedException", "UnrecognizedClientException":
			code = llm.ErrCodeAuth
		case "ValidationException", "ResourceNotFoundException":
			code = llm.ErrCodeInvalidRequest
		case "ModelTimeoutException":
			code = llm.ErrCodeTimeout
		case "ModelNotReadyException", "ServiceUnavailableException":
			code = llm.ErrCodeUnavailable
		}
		pe := llm.NewProviderError(p.name, code, apiErr.ErrorMessage())
		pe.Cause = err
		return pe
	}
	return llm.WrapError(p.name, err)
}

var inferenceProfilePrefixes = []string{"eu", "us", "apac", "global"}

var supportedFamilies = []string{"anthropic", "amazon", "meta", "mistral"}

// detectModelFamily extracts the vendor family from a Bedrock model id,
// including regional inference profile ids such as
// "eu.anthropic.claude-3-5-sonnet-20240620-v1:0".
func detectModelFamily(modelID string) string {
	segments := strings.Split(modelID, ".")
	if len(segments) < 2 {
		return ""
	}
	family := segments[0]
	for _, prefix := range inferenceProfilePrefixes {
		if family == prefix {
			family = segments[1]
			break
		}
	}
	for _, supported := range supportedFamilies {
		if family == supported {
			return family
		}
	}
	return ""
}

func buildRequestBody(family, prompt, system string, maxTokens int, temperature float64) (map[string]interface{}, error) {
	switch family {
	case "anthropic":
		return map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"temperature":       temperature,
			"system":            system,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
		}, nil
	case "amazon":
		return map[string]interface{}{
			"inputText": system + "\n\nUser: " + prompt + "\nBot:",
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": maxTokens,
				"temperature":   temperature,
				"topP":          0.9,
			},
		}, nil
	case "meta":
		return map[string]interface{}{
			"prompt": "<|begin_of_text|><|start_header_id|>system<|end_header_id|>\n\n" + system +
				"<|eot_id|><|start_header_id|>user<|end_header_id|>\n\n" + prompt +
				"<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n",
			"max_gen_len": maxTokens,
			"temperature": temperature,
			"top_p":       0.9,
		}, nil
	case "mistral":
		return map[string]interface{}{
			"prompt":      "<s>[INST] " + system + "\n\n" + prompt + " [/INST]",
			"max_tokens":  maxTokens,
			"temperature": temperature,
			"top_p":       0.9,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model family: %q", family)
	}
}

// parseResponseBody returns the generated text and total tokens, or zero
// tokens when the family does not report usage.
func parseResponseBody(family string, body []byte) (string, int, error) {
	switch family {
	case "anthropic":
		var resp struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", 0, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		var b strings.Builder
		for _, c := range resp.Content {
			b.WriteString(c.Text)
		}
		return b.String(), resp.Usage.InputTokens + resp.Usage.OutputTokens, nil

	case "amazon":
		var resp struct {
			InputTextTokenCount int `json:"inputTextTokenCount"`
			Results             []struct {
				OutputText string `json:"outputText"`
				TokenCount int    `json:"tokenCount"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", 0, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if len(resp.Results) == 0 {
			return "", 0, nil
		}
		return strings.TrimSpace(resp.Results[0].OutputText), resp.InputTextTokenCount + resp.Results[0].TokenCount, nil

	case "meta":
		var resp struct {
			Generation       string `json:"generation"`
			PromptTokenCount int    `json:"prompt_token_count"`
			GenTokenCount    int    `json:"generation_token_count"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", 0, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return strings.TrimSpace(resp.Generation), resp.PromptTokenCount + resp.GenTokenCount, nil

	case "mistral":
		var resp struct {
			Outputs []struct {
				Text string `json:"text"`
			} `json:"outputs"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", 0, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if len(resp.Outputs) == 0 {
			return "", 0, nil
		}
		return strings.TrimSpace(resp.Outputs[0].Text), 0, nil

	default:
		return "", 0, fmt.Errorf("unsupported model family: %q", family)
	}
}
