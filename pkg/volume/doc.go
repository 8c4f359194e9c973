/*
Package volume implements the core of the placement layer: the immutable
VolumeSet snapshot, the pluggable placement strategies, and the path codec
that maps logical file references to physical volume locations.

# Architecture

	configuration load
	        │
	        ▼
	┌──────────────────┐      ┌───────────────────┐
	│       Set        │◄─────│ replacement rules │
	│ active prefixes  │      │ (old → new pairs) │
	└───────┬──────────┘      └───────────────────┘
	        │
	   ┌────┴─────┐
	   ▼          ▼
	┌────────┐ ┌────────┐
	│Chooser │ │ Codec  │
	│(random,│ │(encode/│
	│ rrobin)│ │ decode)│
	└────────┘ └────────┘

The Set is built once per configuration load and superseded atomically on
reconfiguration; nothing in this package holds process-wide mutable state, so
any number of tablet servers can place files concurrently with no
coordination. Distribution across volumes is statistical: with N volumes and M
placements the chance a volume stays empty is ((N-1)/N)^M.

The Codec decodes persisted references by longest prefix match over both
active and retired volumes, which keeps references to replaced volumes
readable until the metadata rewriter has migrated them.
*/
package volume
