package pipeline

import (
	"time"
)

// RequestContext holds the mutable state of one pipeline invocation.
// A RequestContext is created by Process and never shared between requests.
type RequestContext struct {
	profile   ClientProfile
	original  RequestEnvelope
	processed RequestEnvelope

	rawResponse   *ResponseEnvelope
	finalResponse *ResponseEnvelope

	extensions *Extensions

	aborted bool
	err     error

	requestRevision  int
	responseRevision int

	startedAt   time.Time
	completedAt time.Time
}

// NewRequestContext creates the context for one request. Process calls it
// for every request; plugins may call it to exercise hooks in isolation.
func NewRequestContext(req RequestEnvelope, profile ClientProfile, now time.Time) *RequestContext {
	return &RequestContext{
		profile:    profile,
		original:   req,
		processed:  req,
		extensions: newExtensions(),
		startedAt:  now,
	}
}

// Profile returns the client profile
func (c *RequestContext) Profile() ClientProfile {
	return c.profile
}

// OriginalRequest returns the request as received
func (c *RequestContext) OriginalRequest() RequestEnvelope {
	return c.original
}

// ProcessedRequest returns the current processed request
func (c *RequestContext) ProcessedRequest() RequestEnvelope {
	return c.processed
}

// SetProcessedRequest replaces the processed request
func (c *RequestContext) SetProcessedRequest(req RequestEnvelope) {
	c.processed = req
	c.requestRevision++
}

// RequestRevision counts processed request replacements
func (c *RequestContext) RequestRevision() int {
	return c.requestRevision
}

// RawResponse returns the response as produced by the backend
func (c *RequestContext) RawResponse() (ResponseEnvelope, bool) {
	if c.rawResponse == nil {
		return ResponseEnvelope{}, false
	}
	return *c.rawResponse, true
}

// FinalResponse returns the response that will be returned to the caller
func (c *RequestContext) FinalResponse() (ResponseEnvelope, bool) {
	if c.finalResponse == nil {
		return ResponseEnvelope{}, false
	}
	return *c.finalResponse, true
}

// SetFinalResponse replaces the final response
func (c *RequestContext) SetFinalResponse(resp ResponseEnvelope) {
	c.finalResponse = &resp
	c.responseRevision++
}

// ResponseRevision counts final response replacements
func (c *RequestContext) ResponseRevision() int {
	return c.responseRevision
}

func (c *RequestContext) setBackendResponse(resp ResponseEnvelope) {
	raw := resp
	c.rawResponse = &raw
	c.SetFinalResponse(resp)
}

// Extensions returns the per-request side channel
func (c *RequestContext) Extensions() *Extensions {
	return c.extensions
}

// Abort marks the request as failed. Only the first error is kept and the
// abort flag is never cleared.
func (c *RequestContext) Abort(err error) {
	if c.aborted {
		return
	}
	c.aborted = true
	c.err = err
}

// Aborted reports whether any phase failed
func (c *RequestContext) Aborted() bool {
	return c.aborted
}

// Err returns the captured error
func (c *RequestContext) Err() error {
	return c.err
}

// StartedAt returns when processing began
func (c *RequestContext) StartedAt() time.Time {
	return c.startedAt
}

// CompletedAt returns when processing finished, zero until completed
func (c *RequestContext) CompletedAt() time.Time {
	return c.completedAt
}

// Completed reports whether the end timestamp has been set
func (c *RequestContext) Completed() bool {
	return !c.completedAt.IsZero()
}

// Elapsed returns the processing time so far, or the total once completed
func (c *RequestContext) Elapsed() time.Duration {
	if c.Completed() {
		return c.completedAt.Sub(c.startedAt)
	}
	return time.Since(c.startedAt)
}

func (c *RequestContext) markCompleted(now time.Time) {
	if c.completedAt.IsZero() {
		c.completedAt = now
	}
}

// attributeAbort ties an abort raised directly through Abort to the plugin
// that was running when it happened.
func (c *RequestContext) attributeAbort(pluginID string, phase Phase) {
	if !c.aborted {
		return
	}
	if c.err == nil {
		c.err = NewProcessingError("request aborted without an error", nil)
	}
	c.err = wrapPluginError(pluginID, phase, c.err)
}
