package shard

import (
	"sort"
	"time"
)

// MergeNewestFirst sorts rows gathered from several partitions into one
// strictly chronological view (newest first) and applies offset/limit.
// Ties on the timestamp are broken by key so the order is stable across calls.
func MergeNewestFirst[T any](rows []T, at func(T) time.Time, key func(T) string, offset, limit int) []T {
	return merge(rows, at, key, offset, limit, true)
}

// MergeOldestFirst is MergeNewestFirst in ascending order. Work queues
// read across partitions use it so no partition starves the others.
func MergeOldestFirst[T any](rows []T, at func(T) time.Time, key func(T) string, offset, limit int) []T {
	return merge(rows, at, key, offset, limit, false)
}

func merge[T any](rows []T, at func(T) time.Time, key func(T) string, offset, limit int, newestFirst bool) []T {
	sort.SliceStable(rows, func(i, j int) bool {
		ti, tj := at(rows[i]), at(rows[j])
		ki, kj := key(rows[i]), key(rows[j])
		if newestFirst {
			if !ti.Equal(tj) {
				return ti.After(tj)
			}
			return ki > kj
		}
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return ki < kj
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []T{}
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return rows[offset:end]
}
