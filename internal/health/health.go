// Package health runs the pre-flight checks that gate a run: the Internet
// Archive endpoint and the source site must both be reachable before any
// archiving starts.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// BucketProber probes the remote store for an item's existence. The error
// is reserved for the endpoint being unreachable.
type BucketProber interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// Checker verifies the external collaborators before a run.
type Checker struct {
	prober    BucketProber
	sourceURL string
	userAgent string
	client    *http.Client
	logger    *zap.Logger
}

// New builds a Checker probing the given source base URL.
func New(prober BucketProber, sourceBaseURL, userAgent string, logger *zap.Logger) *Checker {
	return &Checker{
		prober:    prober,
		sourceURL: sourceBaseURL + "/htm/News/20250101/HK-gaa1_r.htm",
		userAgent: userAgent,
		client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Check runs all health checks, returning an error when the run must not
// start. An absent probe bucket is only a warning: it still proves the IA
// endpoint answered. An unreachable endpoint aborts.
func (c *Checker) Check(ctx context.Context) error {
	c.logger.Info("running health checks")

	ok, err := c.prober.BucketExists(ctx, "test-mingpao-backup")
	if err != nil {
		return fmt.Errorf("internet archive endpoint unreachable: %w", err)
	}
	if !ok {
		c.logger.Warn("probe bucket not found; endpoint reachable, continuing")
	} else {
		c.logger.Info("internet archive s3 connection ok")
	}

	if err := c.checkSource(ctx); err != nil {
		return err
	}
	c.logger.Info("source site reachable")
	return nil
}

func (c *Checker) checkSource(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build source probe: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("source site unreachable: %w", err)
	}
	defer resp.Body.Close()

	// 200, redirect, and 404 all prove the site is answering.
	if resp.StatusCode >= 500 {
		return fmt.Errorf("source site returned status %d", resp.StatusCode)
	}
	return nil
}
