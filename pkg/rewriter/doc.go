/*
Package rewriter applies volume replacement rules to persisted metadata: file
references, tablet directories and WAL markers whose prefix exactly matches a
retired volume are rewritten to its successor, one atomic
delete-old/insert-new row at a time.

A pass is idempotent and resumable. Rows already rewritten no longer match
any rule, so re-running after a partial failure only touches the remainder,
and cancellation between rows is always safe. Structural changes racing the
scan surface as RewriteConflictError and the caller retries the pass.
*/
package rewriter
