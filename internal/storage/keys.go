package storage

import "strings"

const keyPrefix = "nostrgit"

// Kind names a per-repository collection.
type Kind string

const (
	KindIssues Kind = "issues"
	KindPulls  Kind = "pulls"

	// KindStatuses holds status events whose target entry has not arrived yet.
	KindStatuses Kind = "statuses"
)

// RepositoriesKey addresses the repository collection.
func RepositoriesKey() string {
	return keyPrefix + ":repos"
}

// TombstonesKey addresses the local deletion list.
func TombstonesKey() string {
	return keyPrefix + ":tombstones"
}

// CollectionKey addresses one per-repository collection.
func CollectionKey(kind Kind, entity, slug string) string {
	return strings.Join([]string{keyPrefix, string(kind), entity, strings.ToLower(slug)}, ":")
}

// MigrationKey addresses a migration-completed marker.
func MigrationKey(fingerprint string) string {
	return keyPrefix + ":migration:" + fingerprint
}
