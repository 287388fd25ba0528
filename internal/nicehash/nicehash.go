// Package nicehash is a client for the private NiceHash mining API.
package nicehash

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/poolspy/internal/export"
	"github.com/ethpandaops/poolspy/internal/series"
	"github.com/ethpandaops/poolspy/internal/version"
)

// API paths.
const (
	pathTime      = "/api/v2/time"
	pathRigs      = "/main/api/v2/mining/rigs2"
	pathRigStats  = "/main/api/v2/mining/rig/stats/data"
	pathAlgoStats = "/main/api/v2/mining/rig/stats/algo"
)

// Rig is one mining rig of the organization.
type Rig struct {
	ID   string `json:"rigId"`
	Name string `json:"name"`
}

// Client defines the interface for reading rig telemetry.
type Client interface {
	// FetchRigs lists the rigs currently registered with the organization.
	FetchRigs(ctx context.Context) ([]Rig, error)
	// FetchRigStats returns the raw stats series of one rig in
	// [startMs, endMs].
	FetchRigStats(ctx context.Context, rigID string, startMs, endMs int64) (series.Raw, error)
	// FetchAlgoStats returns the raw organization-wide stats series of one
	// mining algorithm in [startMs, endMs].
	FetchAlgoStats(ctx context.Context, algorithm string, startMs, endMs int64) (series.Raw, error)
}

type client struct {
	log     logrus.FieldLogger
	cfg     Config
	http    *http.Client
	metrics *export.Metrics
	now     func() time.Time
}

// NewClient creates a new NiceHash API client. metrics may be nil.
func NewClient(log logrus.FieldLogger, cfg Config, metrics *export.Metrics) Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &client{
		log:     log.WithField("component", "nicehash"),
		cfg:     cfg,
		metrics: metrics,
		now:     time.Now,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *client) FetchRigs(ctx context.Context) ([]Rig, error) {
	var resp struct {
		MiningRigs []Rig `json:"miningRigs"`
	}

	if err := c.getJSON(ctx, pathRigs, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching rigs: %w", err)
	}

	c.log.WithField("rigs", len(resp.MiningRigs)).Debug("Fetched rig roster")

	return resp.MiningRigs, nil
}

func (c *client) FetchRigStats(
	ctx context.Context,
	rigID string,
	startMs, endMs int64,
) (series.Raw, error) {
	query := url.Values{}
	query.Set("rigId", rigID)
	query.Set("afterTimestamp", strconv.FormatInt(startMs, 10))
	query.Set("beforeTimestamp", strconv.FormatInt(endMs, 10))

	var raw series.Raw
	if err := c.getJSON(ctx, pathRigStats, query, &raw); err != nil {
		return series.Raw{}, fmt.Errorf("fetching stats of rig %s: %w", rigID, err)
	}

	return raw, nil
}

func (c *client) FetchAlgoStats(
	ctx context.Context,
	algorithm string,
	startMs, endMs int64,
) (series.Raw, error) {
	query := url.Values{}
	query.Set("algorithm", algorithm)
	query.Set("afterTimestamp", strconv.FormatInt(startMs, 10))
	query.Set("beforeTimestamp", strconv.FormatInt(endMs, 10))

	var raw series.Raw
	if err := c.getJSON(ctx, pathAlgoStats, query, &raw); err != nil {
		return series.Raw{}, fmt.Errorf("fetching stats of algorithm %s: %w", algorithm, err)
	}

	return raw, nil
}

// serverTime returns the API clock in milliseconds. Signed requests must
// carry a timestamp close to it.
func (c *client) serverTime(ctx context.Context) (int64, error) {
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}

	if err := c.do(ctx, pathTime, nil, false, &resp); err != nil {
		return 0, fmt.Errorf("fetching server time: %w", err)
	}

	return resp.ServerTime, nil
}

func (c *client) getJSON(
	ctx context.Context,
	path string,
	query url.Values,
	target any,
) error {
	return c.do(ctx, path, query, true, target)
}

func (c *client) do(
	ctx context.Context,
	path string,
	query url.Values,
	signed bool,
	target any,
) error {
	encoded := query.Encode()

	u := c.cfg.Endpoint + path
	if encoded != "" {
		u += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", path, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	if signed {
		ts, err := c.serverTime(ctx)
		if err != nil {
			return err
		}

		c.sign(req, ts, path, encoded)
	}

	start := c.now()

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(path, "error", start)

		return fmt.Errorf("executing request for %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.observe(path, strconv.Itoa(resp.StatusCode), start)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return fmt.Errorf(
			"unexpected status %d from %s: %s",
			resp.StatusCode,
			path,
			string(body),
		)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}

	return nil
}

// sign adds the NiceHash HMAC-SHA256 authentication headers.
func (c *client) sign(req *http.Request, ts int64, path, query string) {
	timestamp := strconv.FormatInt(ts, 10)
	nonce := uuid.NewString()

	req.Header.Set("X-Time", timestamp)
	req.Header.Set("X-Nonce", nonce)
	req.Header.Set("X-Organization-Id", c.cfg.OrganizationID)
	req.Header.Set("X-Request-Id", uuid.NewString())
	req.Header.Set("X-Auth", c.cfg.APIKey+":"+signature(
		c.cfg.APISecret,
		c.cfg.APIKey,
		timestamp,
		nonce,
		c.cfg.OrganizationID,
		req.Method,
		path,
		query,
	))
}

// signature computes the hex HMAC over the NUL-separated request fields.
func signature(secret, key, timestamp, nonce, org, method, path, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))

	fields := []string{key, timestamp, nonce, "", org, "", method, path, query}
	for i, f := range fields {
		if i > 0 {
			mac.Write([]byte{0})
		}

		mac.Write([]byte(f))
	}

	return hex.EncodeToString(mac.Sum(nil))
}

func (c *client) observe(path, status string, start time.Time) {
	if c.metrics == nil {
		return
	}

	c.metrics.APIRequestsTotal.WithLabelValues(path, status).Inc()
	c.metrics.APIRequestDuration.WithLabelValues(path).
		Observe(c.now().Sub(start).Seconds())
}
