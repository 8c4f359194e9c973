// Package initializer stamps each volume root with the cluster's instance
// identity marker. The marker catches two misconfigurations before any data
// moves: pointing a cluster at an uninitialized volume, and pointing it at a
// volume that belongs to a different cluster.
package initializer
