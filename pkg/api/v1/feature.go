package v1

import (
	"encoding/json"
)

// FlagDocument is the remote feature configuration as stored in etcd.
type FlagDocument struct {
	Flags     map[string]bool `json:"flags"`
	Version   int             `json:"version"`  // business version, bumped on every write
	Revision  int64           `json:"revision"` // etcd mod revision, filled on read
	UpdatedBy string          `json:"updated_by"`
}

// Change describes a single flag transition pushed over the change stream.
type Change struct {
	Key      string `json:"key"`
	Enabled  bool   `json:"enabled"`
	Source   string `json:"source"` // local, remote, reset, or remote_document when no store follows the document
	Revision int64  `json:"revision"`
	Type     string `json:"type,omitempty"`
}

// Destination is a navigable screen as handed to the rendering layer.
type Destination struct {
	Name   string `json:"name"`
	Screen string `json:"screen"`
	Icon   string `json:"icon,omitempty"`
	Label  string `json:"label"`
}

type NavigationResponse struct {
	Authenticated bool          `json:"authenticated"`
	Role          string        `json:"role,omitempty"`
	Destinations  []Destination `json:"destinations"`
}

func (d *FlagDocument) ToJSON() string {
	b, err := json.Marshal(d)
	if err != nil {
		panic("farmgate flag document serialization failed: " + err.Error())
	}
	return string(b)
}
