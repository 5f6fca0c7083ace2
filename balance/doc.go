/*
Package balance distributes calls across service instances.

Three strategies share one bookkeeping core:

  - round-robin: even rotation over the eligible pool
  - weighted: smooth weighted round-robin, proportional without bursts
  - adaptive: lowest mean latency scaled by failure ratio wins

Eligibility is uniform across strategies: an instance participates when it
reports healthy and no weight override disables it. Selections carry
unique IDs and pool sizes for tracing, and every balancer keeps
per-instance outcome statistics fed back by the caller via UpdateStats.
*/
package balance
