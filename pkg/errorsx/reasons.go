package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Device layer: microphone or speaker unavailable, always fatal to the
	// current turn.
	ReasonDeviceOpen  ReasonCode = "device_open"
	ReasonDeviceRead  ReasonCode = "device_read"
	ReasonDeviceWrite ReasonCode = "device_write"
	ReasonDeviceBusy  ReasonCode = "device_busy"

	// Per-endpoint transport failures, recovered by failover.
	ReasonTransportConnect ReasonCode = "transport_connect"
	ReasonTransportTimeout ReasonCode = "transport_timeout"
	ReasonTransportAuth    ReasonCode = "transport_auth"
	ReasonTransportStatus  ReasonCode = "transport_status"

	// Dispatch outcomes.
	ReasonNoSignal  ReasonCode = "no_signal"
	ReasonExhausted ReasonCode = "all_endpoints_exhausted"

	// Format negotiation.
	ReasonFormatUnsupported ReasonCode = "format_unsupported"

	// Provider-local throttling, handled by retry/breaker before failover.
	ReasonRateLimit ReasonCode = "rate_limit"

	// Caller-initiated abort; a normal terminal state, not a failure.
	ReasonCancelled ReasonCode = "cancelled"

	// Playback starvation past the tolerated window.
	ReasonUnderrun ReasonCode = "playback_underrun"
)
