// Package fetchextra is a request-lifecycle wrapper around a standard
// HTTP client: it adds retry, multi-phase timeouts, rate and concurrency
// limiting, and body/response validation on top of a single
// request/response exchange, without altering the wire bytes or the
// semantics of body consumption.
//
// # Quick start
//
//	client := fetchextra.New()
//	resp, err := client.Fetch(ctx, "https://api.example.com/items", &fetchextra.Options{
//	    Retry:    3,
//	    Validate: fetchextra.ValidateOK(),
//	    Timeouts: fetchextra.Timeouts{
//	        Request: 2 * time.Second,
//	        Stall:   10 * time.Second,
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	var items []Item
//	if err := resp.JSON(ctx, &items); err != nil {
//	    return err
//	}
//	stats, err := resp.Completed(ctx)
//
// # Timeout clocks
//
// Four independent budgets multiplex onto one cancellation per attempt:
//
//   - overall: the whole attempt, request phase plus body phase
//   - request: connection establishment and response headers
//   - body: the total body-transfer duration
//   - stall: lack of forward byte progress — re-armed on every chunk
//
// The first clock to fire wins; the resulting *TimeoutError names it.
//
// # Retry
//
// Options.Retry sets a plain attempt ceiling; Options.RetryFunc takes
// full control, and may mutate the target, headers, body and timeout
// budgets for the next attempt. Retries cover request-phase failures
// and failures discovered during body materialization alike — the
// latter trigger a fresh attempt whose data transparently resolves the
// caller's original materialization call.
//
// # Gates
//
// NewOperation(maxParallel, maxRPS) bounds concurrent operations with a
// weighted semaphore — held until the body finishes, not until headers
// arrive — and paces starts with a token bucket.
package fetchextra
