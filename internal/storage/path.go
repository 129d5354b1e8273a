package storage

import (
	"path"
	"strings"
)

// PathConfig holds configuration for object key generation.
type PathConfig struct {
	// ShardLevels is the number of directory levels for sharding.
	// Default: 2 (e.g., <project>/ab/cd/abcdef...)
	ShardLevels int

	// ShardWidth is the number of characters per shard level.
	// Default: 2 (e.g., ab, cd)
	ShardWidth int
}

// DefaultPathConfig returns the default key configuration.
func DefaultPathConfig() PathConfig {
	return PathConfig{
		ShardLevels: 2,
		ShardWidth:  2,
	}
}

// ProjectPrefix returns the key prefix shared by every file of a project.
func ProjectPrefix(projectID string) string {
	return projectID + "/"
}

// ComputeKey generates the object key for a file of a project.
// Uses directory sharding on the file ID to spread files across directories.
//
// Example with default config (2 levels, 2 chars each):
//
//	project: "p1", file: "abcdef12-..."
//	result:  "p1/ab/cd/abcdef12-..."
func ComputeKey(config PathConfig, projectID, fileID string) string {
	shard := strings.ReplaceAll(fileID, "-", "")

	components := make([]string, 0, config.ShardLevels+2)
	components = append(components, projectID)

	if len(shard) >= config.ShardLevels*config.ShardWidth {
		offset := 0
		for i := 0; i < config.ShardLevels; i++ {
			components = append(components, shard[offset:offset+config.ShardWidth])
			offset += config.ShardWidth
		}
	}

	components = append(components, fileID)
	return path.Join(components...)
}

// ComputeDefaultKey generates the object key using the default configuration.
func ComputeDefaultKey(projectID, fileID string) string {
	return ComputeKey(DefaultPathConfig(), projectID, fileID)
}

// ValidKey reports whether key is safe to map onto a filesystem path.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
