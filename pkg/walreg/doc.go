/*
Package walreg models the write-ahead-log location registry the volume layer
verifies placements against: markers mapping tablet-server identity to WAL
file locations and open/closed state.

The registry is eventually consistent with respect to node deletion. A WAL
cleaner may remove a server's node between a scan listing the server and
reading its markers; that surfaces as ErrNoNode and is a normal race. The
RetryPolicy here gives verification code a bounded, classified retry for
exactly that case instead of an open-ended loop.
*/
package walreg
