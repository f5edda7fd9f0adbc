package domain

// Trigger carries the context a run was started with. Branch, tag and
// commit feed stage run conditions and templates; vars are opaque key-value
// pairs for command expansion; seeds map externally supplied artifact names
// to local files.
type Trigger struct {
	Branch string            `json:"branch,omitempty"`
	Tag    string            `json:"tag,omitempty"`
	Commit string            `json:"commit,omitempty"`
	Vars   map[string]string `json:"vars,omitempty"`
	Seeds  map[string]string `json:"seeds,omitempty"`
}
