package toolkit

// Capability expresses optional features a toolkit may request access to.
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	CapabilityDatabase   Capability = "database"
	CapabilityExecution  Capability = "execution"
)

// Info contains descriptive metadata for a toolkit implementation.
type Info struct {
	ID           string
	Name         string
	Description  string
	Author       string
	Version      string
	Capabilities []Capability
}

// State represents the lifecycle position of a toolkit instance.
type State string

const (
	StateRegistered State = "registered"
	StateActive     State = "active"
	StateClosed     State = "closed"
)
