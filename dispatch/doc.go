// Package dispatch composes the priority queue, adaptive limiter, resource
// pool and circuit breaker into a single submission surface for the external
// compute service.
//
// Callers submit a Request and get a Future back immediately; a background
// drain loop pulls batches in priority order, admits them through the
// limiter, acquires a pooled invoker and executes through the breaker. A
// future resolves exactly once, with a result or a typed error, regardless
// of which layer rejects the request.
//
// Basic usage:
//
//	d, err := dispatch.New(dispatch.Config{
//		Pool: resilience.PoolConfig[dispatch.Invoker]{
//			Size:    4,
//			Factory: newServiceConn,
//		},
//	})
//	if err != nil {
//		return err
//	}
//	d.Start(ctx)
//	defer d.Stop(ctx)
//
//	fut := d.Submit(ctx, &dispatch.Request{
//		Kind:     dispatch.KindCompletion,
//		Priority: queue.PriorityHigh,
//		Prompt:   "summarize the incident",
//	})
//	res, err := fut.Wait(ctx)
//
// The dispatcher never retries on the caller's behalf: a failure resolves the
// future with the underlying error, and resubmission is a caller decision.
package dispatch
