package routes

import "fmt"

const apiVersion = "v0"

// Version returns the current API version string used in routing (e.g., "v0").
func Version() string {
	return apiVersion
}

// Base returns the versioned API base path (e.g., "/api/v0").
func Base() string {
	return fmt.Sprintf("/api/%s", Version())
}

// Hooks returns the public webhooks base path (e.g., "/api/v0/hooks").
func Hooks() string {
	return Base() + "/hooks"
}

// Workflows returns the workflows base path (e.g., "/api/v0/workflows").
func Workflows() string {
	return Base() + "/workflows"
}

// Executions returns the executions base path (e.g., "/api/v0/executions").
func Executions() string {
	return Base() + "/executions"
}

// Queue returns the trigger queue base path (e.g., "/api/v0/queue").
func Queue() string {
	return Base() + "/queue"
}

// Health is the unversioned liveness path probed by orchestrators.
func Health() string {
	return "/healthz"
}
