/*
Package gateway wraps the external file-copy/unlink engine.

The engine itself is opaque: the daemon only sees the Gateway interface
(contexts with Copy, Unlink and Stat) and the Adapter, which normalizes
every outcome into a structured Result. The adapter's contract:

  - Known non-error codes map to success: 17 (destination exists) on
    transfers, 2 and 70 (target does not exist) on deletions.
  - A failed port bind (code 70 on transfers) is retried transparently
    up to five attempts; only the final outcome propagates. No other
    failure is retried: business retries belong to the enqueueing
    manager.
  - With overwrite forbidden, the adapter stats the destination first
    and short-circuits to success when it exists, because some backends
    overwrite regardless of the flag.
  - The engine's verbose log is captured into a per-invocation buffer
    and returned with the result; concurrent calls never share a sink.
  - The adapter never panics. Unexpected failures become exit code -1
    with a message and zero timestamps; exit code -1 with no message is
    reserved for "cancelled before start".

Transfer code 17 is accepted without a size or checksum cross-check; the
caller is assumed to have verified the destination when re-issuing work.

CLIGateway binds the gfal command-line tools, whose exit statuses are
errno values, the same code space the adapter interprets. MockGateway
is the scriptable in-memory double used across the test suites.
*/
package gateway
