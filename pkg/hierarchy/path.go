package hierarchy

import "strings"

// PathSeparator joins folder ids in a materialized path
const PathSeparator = "/"

// ParsePath splits a stored path into ids, root first. Empty segments are dropped.
func ParsePath(path string) []string {
	parts := strings.Split(path, PathSeparator)
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

// FormatPath joins ids, root first, into a stored path
func FormatPath(ids []string) string {
	return strings.Join(ids, PathSeparator)
}

// childPath is the path of a folder directly under parentPath
func childPath(parentPath, id string) string {
	if parentPath == "" {
		return id
	}
	return parentPath + PathSeparator + id
}

// rebase moves a descendant path from under oldPrefix to under newPrefix
func rebase(path, oldPrefix, newPrefix string) string {
	return newPrefix + strings.TrimPrefix(path, oldPrefix)
}
