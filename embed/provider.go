package embed

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tracefield/tracefield/config"
	"github.com/tracefield/tracefield/errors"
)

// Provider produces an embedding vector for a text. Implementations must be
// safe for concurrent use.
type Provider interface {
	// Embed returns the vector for text, or an error. Provider outages and
	// timeouts are dependency errors; callers decide whether a single
	// record degrades or the whole job fails.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ModelName identifies the model, used to key stored vectors.
	ModelName() string
}

// OpenAIProvider calls an OpenAI-compatible embeddings endpoint.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	cfg     config.EmbeddingsConfig
	logger  *zap.SugaredLogger
}

// NewOpenAIProvider creates a provider from configuration. The base URL may
// point at any OpenAI-compatible server (Ollama, vLLM, the hosted API).
func NewOpenAIProvider(cfg config.EmbeddingsConfig, logger *zap.SugaredLogger) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		return nil, errors.New("embeddings model name is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}

	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		limiter: rate.NewLimiter(limit, 1),
		cfg:     cfg,
		logger:  logger.Named("embed"),
	}, nil
}

// ModelName returns the configured model identifier.
func (p *OpenAIProvider) ModelName() string { return p.model }

// Embed requests one embedding, waiting for rate limiter capacity first.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "embedding rate limit wait aborted")
	}

	reqCtx := ctx
	if timeout := p.cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := p.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, errors.NewDependencyError(err, "embedding provider")
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.NewDependencyError(
			errors.New("provider returned no embedding data"), "embedding provider")
	}

	vector := resp.Data[0].Embedding
	p.logger.Debugw("Computed embedding", "model", p.model, "dimensions", len(vector))
	return vector, nil
}

// StaticProvider returns canned vectors keyed by exact text. Tests use it to
// make semantic matching deterministic. Unknown texts produce an error.
type StaticProvider struct {
	Model   string
	Vectors map[string][]float32
	// Err, when set, is returned for every call to simulate an outage.
	Err error
}

// ModelName returns the configured model identifier.
func (p *StaticProvider) ModelName() string {
	if p.Model == "" {
		return "static-test-model"
	}
	return p.Model
}

// Embed looks up the canned vector for text.
func (p *StaticProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	v, ok := p.Vectors[text]
	if !ok {
		return nil, errors.NewDependencyError(
			errors.Newf("no canned vector for %q", text), "static embedding provider")
	}
	return v, nil
}
