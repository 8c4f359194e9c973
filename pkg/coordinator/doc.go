/*
Package coordinator elects the one process that may mutate shared volume
metadata. Rewrite and decommission passes race badly if two processes run
them against the same rows, so both are gated on raft leadership here, and
the volume lifecycle states plus the last rewrite checkpoint ride the raft
log: a failover resumes a draining volume instead of forgetting it.
*/
package coordinator
