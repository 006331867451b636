// Package resiliency wraps http.Client with the resilience patterns the
// network adapters need for unbounded-latency ledger RPC: exponential
// backoff with jitter, circuit breaking, and trace context injection.
package resiliency

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// Client wraps http.Client with retry, circuit breaking, and W3C trace
// context injection.
type Client struct {
	client     *http.Client
	maxRetries int
	breaker    *CircuitBreaker
}

// NewClient builds a client named after the network it serves. The timeout
// bounds each individual attempt.
func NewClient(name string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		client:     &http.Client{Timeout: timeout},
		maxRetries: 3,
		breaker:    NewCircuitBreaker(name, 5, 10*time.Second),
	}
}

// Do executes an HTTP request with retries on transport errors and 5xx
// responses. Requests with bodies must set GetBody for replay; the JSON-RPC
// callers here always do via http.NewRequest with byte readers.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var traceBytes [16]byte
	traceID := ""
	if _, err := rand.Read(traceBytes[:]); err == nil {
		traceID = hex.EncodeToString(traceBytes[:])
	} else {
		traceID = fmt.Sprintf("%032x", time.Now().UnixNano())
	}
	req.Header.Set("traceparent", fmt.Sprintf("00-%s-0000000000000001-01", traceID))

	if !c.breaker.Allow() {
		return nil, fmt.Errorf("circuit breaker open for %s", c.breaker.name)
	}

	var resp *http.Response
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 && req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				break
			}
			req.Body = body
		}

		resp, err = c.client.Do(req)
		if err == nil && resp.StatusCode < 500 {
			c.breaker.Success()
			return resp, nil
		}
		if resp != nil {
			_ = resp.Body.Close()
		}

		if i == c.maxRetries {
			break
		}

		// backoff: base * 2^i + jitter
		backoff := time.Duration(math.Pow(2, float64(i))) * 100 * time.Millisecond
		jitter := time.Duration(0)
		if n, jerr := rand.Int(rand.Reader, big.NewInt(50)); jerr == nil {
			jitter = time.Duration(n.Int64()) * time.Millisecond
		}
		time.Sleep(backoff + jitter)
	}

	c.breaker.Failure()
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("request to %s failed after %d attempts", req.URL.Host, c.maxRetries+1)
}

// CircuitBreaker is a simple state machine for failure detection.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string // "CLOSED", "OPEN", "HALF_OPEN"
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        "CLOSED",
	}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == "OPEN" {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = "HALF_OPEN"
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == "HALF_OPEN" {
		cb.state = "CLOSED"
	}
	cb.failureCount = 0
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.state = "OPEN"
	}
}
