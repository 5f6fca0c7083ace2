/*
Package retry re-executes failed operations with configurable backoff.

A Retryer owns an attempt budget and a backoff strategy (fixed,
exponential, linear, jitter, or fibonacci). Failed attempts are classified
by a decision function; the default retries transient transport errors,
timeouts, and 5xx statuses. When the budget runs out the final error is
wrapped in ExhaustedError, never swallowed.

	retryer, err := retry.New("payments", retry.DefaultConfig())
	if err != nil {
		return err
	}
	result, err := retryer.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return client.Call(ctx)
	})
*/
package retry
