// Package actions implements the fixed backend actions the agent may
// invoke, the router that multiplexes between them, and the per-region
// concurrent fan-out each handler performs.
package actions

import "errors"

// Name identifies a backend action.
type Name string

const (
	// ActionCount reports total and running instance counts per region.
	ActionCount Name = "count"
	// ActionWithoutOwner lists instances missing the ownership tag.
	ActionWithoutOwner Name = "without-owner"
	// ActionOpenPermission lists instances whose inbound rules allow
	// unrestricted source access.
	ActionOpenPermission Name = "open-permission"
)

var (
	// ErrUnsupportedAction means the requested action name is not in the
	// fixed enum.
	ErrUnsupportedAction = errors.New("unsupported action")
	// ErrActionUnavailable means the handler kept failing past the retry
	// budget (downstream timeout or throttling).
	ErrActionUnavailable = errors.New("action unavailable")
)

// Params carries the parameters of an action request. An empty Regions
// list means "all known regions".
type Params struct {
	Regions []string `json:"regions,omitempty"`
}

// Result is the outcome of one action invocation. Body holds the typed
// per-region entries ([]CountEntry, []UntaggedEntry, or []ExposedEntry),
// exactly one entry per queried region in request order.
type Result struct {
	Action   Name     `json:"action"`
	Body     any      `json:"body"`
	Warnings []string `json:"warnings,omitempty"`
}

// CountEntry is the count action's per-region result.
type CountEntry struct {
	Region           string `json:"region"`
	TotalInstances   int    `json:"totalInstances"`
	RunningInstances int    `json:"runningInstances"`
	Failed           bool   `json:"failed,omitempty"`
}

// InstanceInfo describes a single matched instance.
type InstanceInfo struct {
	InstanceID   string `json:"instanceId"`
	InstanceName string `json:"instanceName"`
	State        string `json:"state"`
}

// UntaggedEntry is the without-owner action's per-region result.
type UntaggedEntry struct {
	Region    string         `json:"region"`
	Instances []InstanceInfo `json:"instances"`
	Failed    bool           `json:"failed,omitempty"`
}

// PermissionInfo describes one wide-open inbound rule.
type PermissionInfo struct {
	IPProtocol string `json:"ipProtocol"`
	FromPort   int32  `json:"fromPort"`
	ToPort     int32  `json:"toPort"`
	AllowFrom  string `json:"allowFrom"`
}

// ExposedInstanceInfo is an instance reachable through an open security
// group, with the offending rules attached.
type ExposedInstanceInfo struct {
	InstanceInfo
	Permissions []PermissionInfo `json:"permissions"`
}

// ExposedEntry is the open-permission action's per-region result.
type ExposedEntry struct {
	Region    string                `json:"region"`
	Instances []ExposedInstanceInfo `json:"instances"`
	Failed    bool                  `json:"failed,omitempty"`
}
