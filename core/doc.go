// Package core is the request execution layer of the crawlr client.
//
// It turns a call described by a [Request] into an HTTP exchange with the
// crawling service, classifies the outcome, retries transient failures, and
// decodes list envelopes and Server-Sent-Event streams.
//
// # Client
//
// [NewClient] validates its options up front; a malformed base URL is a
// [KindValidation] error before any request is made:
//
//	client, err := core.NewClient(
//	    core.WithAPIKey(os.Getenv("CRAWLR_API_KEY")),
//	    core.WithRetry(3, time.Second),
//	)
//
// Settings can be changed later with [Client.SetAPIKey], [Client.SetBaseURL],
// [Client.SetHeader], [Client.SetTimeout] and [Client.SetDebug]. Each attempt
// reads the settings afresh, so a change made while a call is backing off
// takes effect on its next attempt.
//
// # Calls
//
// [Client.Do] is the raw contract. [DoJSON] decodes into a type, [DoArray]
// accepts a bare array, {"results": [...]} or {"result": [...]} and always
// returns a slice, and [Client.Stream] returns an [EventStream]:
//
//	stream, err := client.Stream(ctx, &core.Request{Path: "/crawl/" + id + "/stream"})
//	if err != nil {
//	    return err
//	}
//	for ev, err := range stream.Events() {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(ev.Name, ev.Data)
//	}
//
// Breaking out of the loop closes the response body.
//
// # Errors
//
// Every transport or protocol failure leaves the package as an [*Error]
// with one of these kinds:
//   - [KindNetwork]: no response was received
//   - [KindTimeout]: the per-call deadline expired (also matches [ErrNetwork])
//   - [KindValidation]: input rejected before any request
//   - [KindAuth]: 401 or 403
//   - [KindNotFound]: 404
//   - [KindRateLimit]: 429, with RetryAfter and Quota when sent
//   - [KindServer]: 5xx
//   - [KindParse]: the body did not decode per its content type
//   - [KindGeneric]: any other rejected status
//
// Use errors.Is with the sentinels or errors.As to read the fields:
//
//	var ce *core.Error
//	if errors.As(err, &ce) && ce.Kind == core.KindRateLimit {
//	    log.Printf("retry after %s", ce.RetryAfter)
//	}
//
// Cancelling the caller's context is returned as ctx.Err(), unclassified.
//
// # Retries
//
// Network failures, timeouts, 5xx responses and 429 responses are retried up
// to MaxRetries times with RetryDelay * 2^attempt between attempts. A 429
// with a Retry-After header waits exactly that long instead. Other 4xx
// responses and unclassified errors are returned after one attempt. The
// decision itself is the pure function [Decide].
package core
