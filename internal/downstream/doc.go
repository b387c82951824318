// Package downstream provides clients for the model-serving endpoints the
// enrichment pipeline depends on: a summarization endpoint (messages API)
// and an embedding endpoint.
//
// Clients classify failures for the retry controller: timeouts, network
// errors, and 5xx responses are transient; 4xx responses other than
// rate limiting are wrapped as permanent so the pipeline skips pointless
// retries. Each client rate-limits itself so a burst of queued jobs
// cannot hammer the endpoint.
package downstream
