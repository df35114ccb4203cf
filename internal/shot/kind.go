package shot

import (
	"fmt"
	"sort"
	"strings"
)

// Kind names one of the three asset kinds.
type Kind string

const (
	// KindScreenshot is the raw page screenshot.
	KindScreenshot Kind = "screenshot"
	// KindCollage is the vertical composite.
	KindCollage Kind = "collage"
	// KindVideo is the scrolling video.
	KindVideo Kind = "video"
)

// AllKinds lists the kinds in pipeline order.
func AllKinds() []Kind {
	return []Kind{KindScreenshot, KindCollage, KindVideo}
}

// Kinds is a set of requested asset kinds.
type Kinds map[Kind]struct{}

// NewKinds builds a set from the given kinds.
func NewKinds(kinds ...Kind) Kinds {
	set := make(Kinds, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}

// ParseKinds parses names such as "screenshot", "collage", "video". Duplicates collapse.
func ParseKinds(names []string) (Kinds, error) {
	set := make(Kinds, len(names))
	for _, name := range names {
		switch k := Kind(strings.ToLower(strings.TrimSpace(name))); k {
		case KindScreenshot, KindCollage, KindVideo:
			set[k] = struct{}{}
		case "":
		default:
			return nil, fmt.Errorf("unknown asset kind %q", name)
		}
	}
	return set, nil
}

// Has reports whether the set contains kind.
func (k Kinds) Has(kind Kind) bool {
	_, ok := k[kind]
	return ok
}

// Sorted returns the members in pipeline order.
func (k Kinds) Sorted() []Kind {
	out := make([]Kind, 0, len(k))
	for kind := range k {
		out = append(out, kind)
	}
	order := map[Kind]int{KindScreenshot: 0, KindCollage: 1, KindVideo: 2}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}

// String joins the members with commas.
func (k Kinds) String() string {
	names := make([]string, 0, len(k))
	for _, kind := range k.Sorted() {
		names = append(names, string(kind))
	}
	return strings.Join(names, ",")
}
