package domain

import "time"

type ResourceKind string

const (
	ResourceCampaign ResourceKind = "campaign"
	ResourceAdSet    ResourceKind = "ad_set"
	ResourceAd       ResourceKind = "ad"
	ResourceImage    ResourceKind = "image"
)

// RemoteResource is the identifier the platform assigned to an entity
// created from a draft. Records are append-only; a re-publish supersedes
// them instead of overwriting.
type RemoteResource struct {
	ID           int64        `db:"id" json:"-"`
	DraftID      string       `db:"draft_id" json:"draft_id"`
	Kind         ResourceKind `db:"kind" json:"kind"`
	LocalID      string       `db:"local_id" json:"local_id"`
	RemoteID     string       `db:"remote_id" json:"remote_id"`
	Pausable     bool         `db:"pausable" json:"pausable"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	SupersededAt *time.Time   `db:"superseded_at" json:"superseded_at,omitempty"`
}

// ResourceSet indexes the active remote resources of one draft.
type ResourceSet map[ResourceKind]map[string]RemoteResource

func NewResourceSet(resources []RemoteResource) ResourceSet {
	set := make(ResourceSet)
	for _, r := range resources {
		if r.SupersededAt != nil {
			continue
		}
		set.Add(r)
	}
	return set
}

func (s ResourceSet) Add(r RemoteResource) {
	if s[r.Kind] == nil {
		s[r.Kind] = make(map[string]RemoteResource)
	}
	s[r.Kind][r.LocalID] = r
}

func (s ResourceSet) Get(kind ResourceKind, localID string) (RemoteResource, bool) {
	r, ok := s[kind][localID]
	return r, ok
}

func (s ResourceSet) Len() int {
	n := 0
	for _, m := range s {
		n += len(m)
	}
	return n
}

// RemoteIDs flattens the set into "kind:local_id" -> remote id, leaving out
// uploaded images.
func (s ResourceSet) RemoteIDs() map[string]string {
	out := make(map[string]string)
	for kind, m := range s {
		if kind == ResourceImage {
			continue
		}
		for local, r := range m {
			out[string(kind)+":"+local] = r.RemoteID
		}
	}
	return out
}

// Complete reports whether every campaign, ad set and ad of the draft has
// a remote counterpart.
func (s ResourceSet) Complete(d *Draft) bool {
	if _, ok := s.Get(ResourceCampaign, d.ID); !ok {
		return false
	}
	for _, as := range d.AdSets {
		if _, ok := s.Get(ResourceAdSet, as.ID); !ok {
			return false
		}
		for _, ad := range as.Ads {
			if _, ok := s.Get(ResourceAd, ad.ID); !ok {
				return false
			}
		}
	}
	return true
}
