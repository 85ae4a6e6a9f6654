/*
Core owns one risk-limit instance.

# Module
  - feed adapter: bounded tick queue drained by a single consumer into the price cache
  - position ledger: positions, realized and daily P&L under one exclusive section
  - limit checker: synchronous accept/reject of order proposals against the ledger and cached prices
  - session scheduler: daily reset of the session counters

# Source
 1. price ticks from ingest
 2. fills from the execution path
 3. order proposals from the order-submission path

# Produce
  - decisions returned to the caller
  - read-only ledger snapshots and metrics for export
*/
package core
