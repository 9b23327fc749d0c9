package httpwriter

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// maxErrorBodySize is how much of a failed response body gets logged.
const maxErrorBodySize = 1024

// Client performs the two requests an upload session is made of.
type Client interface {
	// Probe sends a PUT with an empty body and returns the response status code.
	Probe(ctx context.Context, url string) (int, error)

	// Stream sends a chunked PUT whose body is read from body until io.EOF and
	// returns the response status code. It must not time out on its own.
	Stream(ctx context.Context, url string, body io.Reader) (int, error)
}

// ClientConfig holds configuration for HTTPClient.
type ClientConfig struct {
	// ProbeTimeout bounds the whole zero-length PUT, including retries.
	// Default: 9 seconds
	ProbeTimeout time.Duration

	// ConnectTimeout bounds dialing the endpoint, for both requests.
	// Default: 9 seconds
	ConnectTimeout time.Duration

	// ProbeRetries is the number of times a failed zero-length PUT is retried.
	// The streaming PUT is never retried, its body cannot be rewound.
	// Default: 0
	ProbeRetries int

	// Headers are set on both requests, e.g. Authorization.
	Headers map[string]string

	// HTTPClient is the underlying client.
	// If nil, DefaultHTTPClient(ConnectTimeout) is used.
	HTTPClient *http.Client
}

// DefaultClientConfig returns the default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ProbeTimeout:   9 * time.Second,
		ConnectTimeout: 9 * time.Second,
		ProbeRetries:   0,
		HTTPClient:     nil, // Will be created by NewHTTPClient
	}
}

// DefaultHTTPClient creates a pooled client without an overall timeout, since a streaming
// upload can take arbitrarily long, whose dials give up after connectTimeout.
func DefaultHTTPClient(connectTimeout time.Duration) *http.Client {
	transport := cleanhttp.DefaultPooledTransport()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &http.Client{
		Timeout:   0,
		Transport: transport,
	}
}

// HTTPClient is the net/http backed Client.
type HTTPClient struct {
	probeClient  *retryablehttp.Client
	streamClient *retryablehttp.Client
	config       ClientConfig
	logger       log.Logger
}

// NewHTTPClient ...
func NewHTTPClient(config ClientConfig, logger log.Logger) *HTTPClient {
	defaults := DefaultClientConfig()
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaults.ProbeTimeout
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.ProbeRetries < 0 {
		config.ProbeRetries = 0
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = DefaultHTTPClient(config.ConnectTimeout)
	}

	// The clients' own request logs would print the full URL, including presigned
	// query parameters, so they are replaced with redacted ones.
	probeClient := retryhttp.NewClient(logger)
	probeClient.Logger = nil
	probeClient.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Debugf("Retrying empty PUT to %s (attempt %d)", redactURL(req.URL.String()), attempt)
		}
	}
	probeClient.HTTPClient = httpClient
	probeClient.RetryMax = config.ProbeRetries
	probeClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	streamClient := retryhttp.NewClient(logger)
	streamClient.Logger = nil
	streamClient.HTTPClient = httpClient
	streamClient.RetryMax = 0
	streamClient.CheckRetry = neverRetry
	streamClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPClient{
		probeClient:  probeClient,
		streamClient: streamClient,
		config:       config,
		logger:       logger,
	}
}

// Probe ...
func (c *HTTPClient) Probe(ctx context.Context, url string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, url, nil)
	if err != nil {
		return 0, &TransportError{Message: "create request", Err: err}
	}
	c.setHeaders(req)

	c.logger.Debugf("Probing upload URL with an empty PUT")
	resp, err := c.probeClient.Do(req)
	if err != nil {
		return 0, classifyTransportError(err)
	}
	return c.readResponse(resp)
}

// Stream ...
func (c *HTTPClient) Stream(ctx context.Context, url string, body io.Reader) (int, error) {
	// The reader func hands out the same reader every time; with retries disabled it
	// is only consumed once.
	bodyFunc := retryablehttp.ReaderFunc(func() (io.Reader, error) {
		return body, nil
	})

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, url, bodyFunc)
	if err != nil {
		return 0, &TransportError{Message: "create request", Err: err}
	}
	c.setHeaders(req)
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}

	c.logger.Debugf("Starting chunked PUT")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return 0, classifyTransportError(err)
	}
	return c.readResponse(resp)
}

func (c *HTTPClient) setHeaders(req *retryablehttp.Request) {
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
}

func (c *HTTPClient) readResponse(resp *http.Response) (int, error) {
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Warnf("failed to close response body: %s", err)
		}
	}(resp.Body)

	if !isSuccess(resp.StatusCode) {
		errorBody := make([]byte, maxErrorBodySize)
		n, _ := io.ReadAtLeast(resp.Body, errorBody, 1)
		c.logger.Debugf("Upload endpoint responded with status %d: %s", resp.StatusCode, string(errorBody[:n]))
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return resp.StatusCode, &DecodeError{Err: err}
	}
	return resp.StatusCode, nil
}

func neverRetry(context.Context, *http.Response, error) (bool, error) {
	return false, nil
}
