package logcolors

// ANSI color codes for log prefixes
const (
	Reset  = "\033[0m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"
	Red    = "\033[31m"

	BrightGreen   = "\033[92m"
	BrightBlue    = "\033[94m"
	BrightMagenta = "\033[95m"
	BrightCyan    = "\033[96m"
)

// Cache-related log prefixes
const (
	LogCacheInit  = Blue + "[Cache:Init]" + Reset
	LogCache      = Blue + "[Cache]" + Reset
	LogCacheSweep = Blue + "[Cache:Sweep]" + Reset
	LogCacheAside = Green + "[Cache:Aside]" + Reset
	LogCacheStore = Cyan + "[Cache:Store]" + Reset
)

// Rate limiting log prefixes
const (
	LogRateLimit = Purple + "[RateLimit]" + Reset
	LogLimiter   = Purple + "[Limiter]" + Reset
	LogAPIKey    = Purple + "[APIKey]" + Reset
)

// Gateway log prefixes
const (
	LogGateway    = Green + "[Gateway]" + Reset
	LogCredential = Cyan + "[Credential]" + Reset
	LogDNS        = Cyan + "[DNS]" + Reset
)

// CircuitBreakerPrefix returns a colored circuit breaker prefix with the given name
func CircuitBreakerPrefix(name string) string {
	return Purple + "[CircuitBreaker:" + name + "]" + Reset
}

// upstreamColors rotate per upstream name so interleaved logs stay readable
var upstreamColors = []string{
	Green, Blue, Purple, Cyan,
	BrightGreen, BrightBlue, BrightMagenta, BrightCyan,
}

// Upstream returns a colored "[Upstream:<name>]" prefix.
// Same upstream name always gets the same color.
func Upstream(name string) string {
	hash := 0
	for _, c := range name {
		hash += int(c)
	}
	color := upstreamColors[hash%len(upstreamColors)]
	return color + "[Upstream:" + name + "]" + Reset
}

// Server/Init log prefixes
const (
	LogServer  = Green + "[Server]" + Reset
	LogConfig  = Cyan + "[Config]" + Reset
	LogStats   = Blue + "[Stats]" + Reset
	LogRequest = Purple + "[Request]" + Reset
	LogWarning = Red + "[Warning]" + Reset
)

// Alerting log prefixes
const (
	LogNotifier          = Yellow + "[Notifier]" + Reset
	LogTestNotifications = Yellow + "[Notifier:Test]" + Reset
)
