package redis

const keyPrefix = "loom:"

// runKey is the JSON document for a single run, keyed by surrogate ID.
func runKey(surrogateID string) string {
	return keyPrefix + "run:" + surrogateID
}

// runIDsKey is the set of all surrogate run IDs, used for enumeration.
func runIDsKey() string {
	return keyPrefix + "runs"
}

// projectRunsKey is a hash mapping run_id to surrogate ID within one
// project. HSetNX on it enforces (project_id, run_id) uniqueness.
func projectRunsKey(projectID string) string {
	return keyPrefix + "project:" + projectID + ":runs"
}
