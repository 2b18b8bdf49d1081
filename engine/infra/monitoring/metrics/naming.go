package metrics

import "strings"

// Prefix namespaces every instrument exported by the engine.
const Prefix = "autoflow_"

// MetricName prefixes name with the engine namespace unless it already carries it.
func MetricName(name string) string {
	if strings.HasPrefix(name, Prefix) {
		return name
	}
	return Prefix + name
}

// MetricNameWithSubsystem builds autoflow_<subsystem>_<name>.
func MetricNameWithSubsystem(subsystem, name string) string {
	if strings.HasPrefix(name, Prefix) {
		return name
	}
	subsystem = strings.Trim(subsystem, "_")
	switch {
	case subsystem == "":
		return MetricName(name)
	case name == "":
		return Prefix + subsystem
	default:
		return Prefix + subsystem + "_" + name
	}
}
