package auth

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRangeURL  = "https://api.pwnedpasswords.com/range/"
	defaultUserAgent = "securepass/1.0"
)

// BreachResult reports whether a password appears in the breach corpus.
type BreachResult struct {
	Found bool
	Count int
}

// BreachChecker queries a k-anonymity range API (Have I Been Pwned format).
// Only the first five hex characters of SHA1(pw) leave the process.
type BreachChecker struct {
	RangeURL  string
	UserAgent string
	Client    *http.Client
}

// NewBreachChecker returns a checker against the public HIBP endpoint.
func NewBreachChecker() *BreachChecker {
	return &BreachChecker{
		RangeURL:  defaultRangeURL,
		UserAgent: defaultUserAgent,
		Client:    &http.Client{Timeout: 4 * time.Second},
	}
}

// Check looks pw up. Network and HTTP failures are returned wrapped; the
// caller decides whether to fail open.
func (c *BreachChecker) Check(ctx context.Context, pw string) (BreachResult, error) {
	var result BreachResult

	sum := sha1.Sum([]byte(pw))
	hashHex := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := hashHex[:5], hashHex[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.RangeURL+prefix, nil)
	if err != nil {
		return result, fmt.Errorf("breach request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Add-Padding", "true")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return result, fmt.Errorf("breach query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("breach query: unexpected status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineSuffix, countStr, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(lineSuffix, suffix) {
			continue
		}

		count, err := strconv.Atoi(strings.TrimSpace(countStr))
		if err != nil {
			return result, fmt.Errorf("breach parse count: %w", err)
		}
		// Padding rows carry a zero count.
		if count == 0 {
			continue
		}
		result.Found = true
		result.Count = count
		return result, nil
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("breach read response: %w", err)
	}
	return result, nil
}
