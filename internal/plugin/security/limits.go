package security

import (
	"sync"
	"sync/atomic"
	"time"
)

// ResourceLimits defines resource limits for a plugin's sandbox.
type ResourceLimits struct {
	// Memory ceiling in bytes. Tracking is approximate: the monitor counts
	// bytes handed into the sandbox (source, arguments, storage writes),
	// not the Lua VM's true heap size.
	MemoryCeiling int64

	// Maximum execution time per call
	ExecutionTimeout time.Duration

	// Maximum host API network requests per second
	NetworkReqPerSecond int

	// Maximum output size in bytes per execution
	MaxOutputSize int64
}

// DefaultResourceLimits returns sensible default limits.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryCeiling:       10 * 1024 * 1024, // 10 MB
		ExecutionTimeout:    5 * time.Second,
		NetworkReqPerSecond: 10,
		MaxOutputSize:       1 * 1024 * 1024, // 1 MB
	}
}

// StrictResourceLimits returns stricter limits for untrusted plugins.
func StrictResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryCeiling:       5 * 1024 * 1024, // 5 MB
		ExecutionTimeout:    2 * time.Second,
		NetworkReqPerSecond: 1,
		MaxOutputSize:       256 * 1024, // 256 KB
	}
}

// ResourceMonitor tracks resource usage and enforces limits.
type ResourceMonitor struct {
	mu sync.RWMutex

	limits ResourceLimits

	// Tracking
	memoryUsage int64
	outputSize  int64

	// Rate limiters
	networkReqLimiter *RateLimiter

	// State
	exceeded bool
	reason   string
}

// NewResourceMonitor creates a new resource monitor with the given limits.
func NewResourceMonitor(limits ResourceLimits) *ResourceMonitor {
	return &ResourceMonitor{
		limits:            limits,
		networkReqLimiter: NewRateLimiter(limits.NetworkReqPerSecond),
	}
}

// AddMemoryUsage adds to the approximate memory usage tracker.
// Returns true if the ceiling is exceeded.
func (rm *ResourceMonitor) AddMemoryUsage(bytes int64) bool {
	newUsage := atomic.AddInt64(&rm.memoryUsage, bytes)
	if rm.limits.MemoryCeiling > 0 && newUsage > rm.limits.MemoryCeiling {
		rm.setExceeded("memory ceiling exceeded")
		return true
	}
	return false
}

// MemoryUsage returns the current approximate memory usage.
func (rm *ResourceMonitor) MemoryUsage() int64 {
	return atomic.LoadInt64(&rm.memoryUsage)
}

// MemoryExceeded returns true if the memory ceiling is currently exceeded.
func (rm *ResourceMonitor) MemoryExceeded() bool {
	return rm.limits.MemoryCeiling > 0 &&
		atomic.LoadInt64(&rm.memoryUsage) > rm.limits.MemoryCeiling
}

// AddOutput adds to the output size tracker.
// Returns true if the limit is exceeded.
func (rm *ResourceMonitor) AddOutput(bytes int64) bool {
	newSize := atomic.AddInt64(&rm.outputSize, bytes)
	if rm.limits.MaxOutputSize > 0 && newSize > rm.limits.MaxOutputSize {
		rm.setExceeded("output size limit exceeded")
		return true
	}
	return false
}

// ResetOutputSize resets the output size counter.
func (rm *ResourceMonitor) ResetOutputSize() {
	atomic.StoreInt64(&rm.outputSize, 0)
}

// TryNetworkRequest attempts to perform a network request.
// Returns true if allowed, false if rate limited.
func (rm *ResourceMonitor) TryNetworkRequest() bool {
	if !rm.networkReqLimiter.Allow() {
		rm.setExceeded("network request rate limit exceeded")
		return false
	}
	return true
}

// ExecutionTimeout returns the execution timeout.
func (rm *ResourceMonitor) ExecutionTimeout() time.Duration {
	return rm.limits.ExecutionTimeout
}

// Limits returns the current limits.
func (rm *ResourceMonitor) Limits() ResourceLimits {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.limits
}

// IsExceeded returns true if any limit was exceeded.
func (rm *ResourceMonitor) IsExceeded() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.exceeded
}

// ExceededReason returns the reason for limit exceeded, if any.
func (rm *ResourceMonitor) ExceededReason() string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.reason
}

// setExceeded marks limits as exceeded with a reason.
func (rm *ResourceMonitor) setExceeded(reason string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.exceeded = true
	rm.reason = reason
}

// Reset resets all counters and clears exceeded state.
func (rm *ResourceMonitor) Reset() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	atomic.StoreInt64(&rm.memoryUsage, 0)
	atomic.StoreInt64(&rm.outputSize, 0)
	rm.exceeded = false
	rm.reason = ""
}

// RateLimiter implements a simple token bucket rate limiter.
type RateLimiter struct {
	mu sync.Mutex

	rate       int       // operations per second
	tokens     int       // current tokens
	maxTokens  int       // maximum tokens (burst size)
	lastRefill time.Time // last token refill time
}

// NewRateLimiter creates a new rate limiter.
// A rate of zero or less means no limit.
func NewRateLimiter(ratePerSecond int) *RateLimiter {
	if ratePerSecond <= 0 {
		return &RateLimiter{rate: 0, tokens: 1, maxTokens: 1}
	}
	return &RateLimiter{
		rate:       ratePerSecond,
		tokens:     ratePerSecond,
		maxTokens:  ratePerSecond,
		lastRefill: time.Now(),
	}
}

// Allow returns true if an operation is allowed.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.rate == 0 {
		return true
	}

	// Refill tokens based on elapsed time
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	tokensToAdd := int(elapsed.Seconds() * float64(rl.rate))
	if tokensToAdd > 0 {
		rl.tokens += tokensToAdd
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens <= 0 {
		return false
	}

	rl.tokens--
	return true
}

// Reset resets the rate limiter to full capacity.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = rl.maxTokens
	rl.lastRefill = time.Now()
}

// ResourceUsage represents a snapshot of resource usage.
type ResourceUsage struct {
	MemoryUsage    int64
	OutputSize     int64
	Exceeded       bool
	ExceededReason string
}

// GetUsage returns a snapshot of current resource usage.
func (rm *ResourceMonitor) GetUsage() ResourceUsage {
	rm.mu.RLock()
	exceeded := rm.exceeded
	reason := rm.reason
	rm.mu.RUnlock()

	return ResourceUsage{
		MemoryUsage:    rm.MemoryUsage(),
		OutputSize:     atomic.LoadInt64(&rm.outputSize),
		Exceeded:       exceeded,
		ExceededReason: reason,
	}
}
