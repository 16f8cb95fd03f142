package domain

// ReadResult is the outcome of a coordinated read as seen by a local caller.
// Degraded marks a result produced without a full read quorum.
type ReadResult struct {
	Value    string `json:"value,omitempty"`
	Found    bool   `json:"found"`
	Degraded bool   `json:"degraded,omitempty"`
}

// NodeStatus is an inspection snapshot of a running node.
type NodeStatus struct {
	NodeID     string   `json:"node_id"`
	State      string   `json:"state"`
	Recovering bool     `json:"recovering"`
	Members    []string `json:"members"`
	Keys       int      `json:"keys"`
}
