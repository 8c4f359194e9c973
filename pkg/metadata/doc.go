/*
Package metadata persists the file-reference and tablet-directory rows the
volume layer reads and rewrites.

The layout mirrors a metadata table keyed by tablet extent:

	file_refs    (extent metadata row, NUL, path qualifier) → FileReference
	tablet_dirs  (extent metadata row)                      → directory value
	meta         generation counter bumped on splits

The row-level unit of change is delete-old plus insert-new applied in one
BoltDB write transaction, which gives readers the all-or-nothing visibility
the rewriter depends on. The generation counter lets a long scan detect that
a split raced it and the pass must be retried.
*/
package metadata
