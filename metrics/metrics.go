package metrics

import "time"

// Recorder receives orchestrator events: intent outcomes, challenge
// processing, poll ticks, credential refreshes.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event and operation names recorded by the orchestrator.
const (
	EventIntentConfirmed   = "intent_confirmed"
	EventIntentSettled     = "intent_settled"
	EventIntentFailed      = "intent_failed"
	EventIntentCancelled   = "intent_cancelled"
	EventChallengeCreated  = "challenge_created"
	EventChallengeIgnored  = "challenge_ignored"
	EventDelegatedExecute  = "delegated_execute"
	EventCredentialRefresh = "credential_refresh"
	EventPollTick          = "poll_tick"
	EventPollError         = "poll_error"

	OpResolveHash      = "resolve_hash"
	OpChallengeProcess = "challenge_process"
	OpBridgeSettle     = "bridge_settle"
)
