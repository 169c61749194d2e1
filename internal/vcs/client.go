// Package vcs announces a promotion by merging the head branch into the base
// branch through the GitHub REST API, opening a pull request when the merge
// conflicts.
package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"modelops/internal/apperrors"
	"modelops/pkg/circuitbreaker"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Outcome of an announcement.
type Outcome string

const (
	Merged             Outcome = "merged"
	NoOp               Outcome = "no_op"
	PRCreated          Outcome = "pr_created"
	PRAlreadyExists    Outcome = "pr_already_exists"
	ConflictUnresolved Outcome = "conflict_unresolved"
	Failed             Outcome = "failed"
)

const (
	commitMessage   = "Auto merge after successful model validation"
	prTitle         = "Promote validated models"
	prBody          = "Automatic merge conflicted. Opened after successful model validation."
	prExistsMessage = "A pull request already exists"
	maxErrorBody    = 4 << 10
)

// ErrCircuitOpen is returned when recent calls to the API host have failed.
var ErrCircuitOpen = errors.New("circuit open for merge API host")

// Config holds the merge client settings.
type Config struct {
	APIURL     string // e.g. https://api.github.com
	Repo       string // owner/name
	Token      string
	Base       string // branch receiving the merge (default "alpha")
	Head       string // branch being merged (default "testing")
	PRFallback bool   // open a pull request when the merge conflicts
	Timeout    time.Duration
	RateLimit  rate.Limit
	RateBurst  int
}

// Client calls the merge API.
type Client struct {
	cfg      Config
	http     *http.Client
	limiter  *rate.Limiter
	breakers *circuitbreaker.Registry
	logger   *slog.Logger
}

// New creates a client. breakers may be shared with other outbound callers;
// nil creates a private registry.
func New(cfg Config, breakers *circuitbreaker.Registry) *Client {
	if cfg.Base == "" {
		cfg.Base = "alpha"
	}
	if cfg.Head == "" {
		cfg.Head = "testing"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 2
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	if breakers == nil {
		breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		breakers: breakers,
		logger:   slog.With("component", "vcs", "repo", cfg.Repo),
	}
}

// Announce merges Head into Base. The returned error describes why the
// outcome is ConflictUnresolved or Failed and is never fatal.
func (c *Client) Announce(ctx context.Context) (Outcome, error) {
	status, body, err := c.post(ctx, "merges", map[string]string{
		"base":           c.cfg.Base,
		"head":           c.cfg.Head,
		"commit_message": commitMessage,
	})
	if err != nil {
		c.logger.Error("Merge request failed", "error", err)
		return Failed, err
	}

	switch status {
	case http.StatusOK, http.StatusCreated:
		c.logger.Info("Branches merged", "base", c.cfg.Base, "head", c.cfg.Head)
		return Merged, nil
	case http.StatusNoContent:
		c.logger.Info("Nothing to merge", "base", c.cfg.Base, "head", c.cfg.Head)
		return NoOp, nil
	case http.StatusConflict:
		if !c.cfg.PRFallback {
			c.logger.Warn("Merge conflict, pull request fallback disabled")
			return ConflictUnresolved, apperrors.Conflict("merge", c.cfg.Head, fmt.Sprintf("merging %s into %s conflicts", c.cfg.Head, c.cfg.Base))
		}
		c.logger.Warn("Merge conflict, opening pull request")
		return c.openPullRequest(ctx)
	default:
		err := fmt.Errorf("merge returned HTTP %d: %s", status, body)
		c.logger.Error("Merge failed", "status", status, "body", body)
		return Failed, err
	}
}

func (c *Client) openPullRequest(ctx context.Context) (Outcome, error) {
	status, body, err := c.post(ctx, "pulls", map[string]string{
		"title": prTitle,
		"head":  c.cfg.Head,
		"base":  c.cfg.Base,
		"body":  prBody,
	})
	if err != nil {
		c.logger.Error("Pull request failed", "error", err)
		return Failed, err
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		c.logger.Info("Pull request opened")
		return PRCreated, nil
	case status == http.StatusUnprocessableEntity && strings.Contains(body, prExistsMessage):
		c.logger.Info("Pull request already open")
		return PRAlreadyExists, nil
	default:
		c.logger.Error("Pull request failed", "status", status, "body", body)
		return Failed, fmt.Errorf("pull request returned HTTP %d: %s", status, body)
	}
}

// post sends one rate limited request through the host's circuit breaker.
// Transport errors and 5xx responses count as breaker failures. Every step
// that can fail before sending runs ahead of Allow, so an admitted call
// always records its result.
func (c *Client) post(ctx context.Context, resource string, payload any) (int, string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s", c.cfg.APIURL, c.cfg.Repo, resource)
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, "", fmt.Errorf("rate limiter: %w", err)
	}

	breaker := c.breakers.Get(hostOf(endpoint))
	if !breaker.Allow() {
		return 0, "", ErrCircuitOpen
	}

	resp, err := c.http.Do(req)
	if err != nil {
		breaker.RecordFailure()
		return 0, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 500 {
		breaker.RecordFailure()
	} else {
		breaker.RecordSuccess()
	}
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
