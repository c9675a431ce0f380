package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
	"github.com/synaptica-ai/ecgdesk/pkg/common/logger"
	"github.com/synaptica-ai/ecgdesk/pkg/common/models"
	"github.com/synaptica-ai/ecgdesk/pkg/gateway/httpclient"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
	retryBaseDelay         = 250 * time.Millisecond
	fileField              = "file"
)

// File is the raw upload forwarded to the analysis service.
type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// Result is a normalized analysis response with defaults applied.
type Result struct {
	Diagnosis models.Findings
	Score     models.Findings
	Notes     string
}

// Analyzer submits one file for classification.
type Analyzer interface {
	Analyze(ctx context.Context, file File) (Result, error)
}

type Config struct {
	URL             string
	Timeout         time.Duration
	Attempts        int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Gateway calls the external ECG classifier over HTTP.
type Gateway struct {
	client   *resty.Client
	url      string
	timeout  time.Duration
	attempts int
	breaker  *gobreaker.CircuitBreaker[Result]
}

func NewGateway(cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaultBreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = defaultBreakerCooldown
	}

	client := resty.NewWithClient(httpclient.New(cfg.Timeout)).
		SetHeader("Accept", "application/json")

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        "analysis-gateway",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// the service answered; only transport problems count against it
			return err == nil || IsRemoteAnalysisError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Log.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("analysis breaker state changed")
		},
	})

	return &Gateway{
		client:   client,
		url:      cfg.URL,
		timeout:  cfg.Timeout,
		attempts: cfg.Attempts,
		breaker:  breaker,
	}
}

// Analyze posts the file as multipart field "file" and normalizes the reply.
// It returns a *RemoteAnalysisError when the service reports an error and
// ErrRemoteUnavailable for transport failures, timeouts and malformed replies.
func (g *Gateway) Analyze(ctx context.Context, file File) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	result, err := g.breaker.Execute(func() (Result, error) {
		return g.call(ctx, file)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	entry := logger.Log.WithFields(map[string]interface{}{
		"file":        file.Name,
		"media_type":  file.MediaType,
		"bytes":       len(file.Data),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("ECG analysis failed")
		return Result{}, err
	}
	entry.Info("ECG analysis completed")
	return result, nil
}

func (g *Gateway) call(ctx context.Context, file File) (Result, error) {
	var resp *resty.Response
	err := httpclient.Retry(ctx, g.attempts, retryBaseDelay, func() error {
		r, err := g.client.R().
			SetContext(ctx).
			SetMultipartField(fileField, file.Name, file.MediaType, bytes.NewReader(file.Data)).
			Post(g.url)
		if err != nil {
			if httpclient.IsRetriable(err) {
				return err
			}
			return httpclient.Permanent(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	return decodeResponse(resp.StatusCode(), resp.Body())
}
