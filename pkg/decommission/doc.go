/*
Package decommission retires volumes safely. A volume leaves the active set
the moment decommissioning begins (Draining), but stays fully readable; it
only becomes Retired once a full re-scan of the metadata table and the WAL
registry finds zero references to it. Residual references are a wait-and-poll
condition, not an error: they clear as compactions and rewrite passes catch
up. The package never deletes files; it only proves nothing needs them.
*/
package decommission
