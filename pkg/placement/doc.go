/*
Package placement ties the volume layer's write path together: for every new
tablet directory, data file and write-ahead log it asks the chooser for a
volume, the codec for the persisted reference, and commits the row. It also
models the two metadata motions that interact with volume topology changes:
compaction, which naturally migrates a tablet's data onto the current volume
set, and the offline relative-path form that lets a table's files move
without rewriting every row.
*/
package placement
