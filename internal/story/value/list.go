package value

import (
	"sort"
	"strings"
)

type ListItem struct {
	Origin string `json:"origin"`
	Name   string `json:"name"`
	Value  int    `json:"value"`
}

// FullName is the qualified "origin.name" form.
func (it ListItem) FullName() string {
	if it.Origin == "" {
		return it.Name
	}
	return it.Origin + "." + it.Name
}

// List is a set of list items kept sorted by (value, origin, name). Origins
// records which list definitions the value belongs to even when it is empty.
type List struct {
	Items   []ListItem `json:"items"`
	Origins []string   `json:"origins,omitempty"`
}

func NewList(origins []string, items ...ListItem) List {
	return List{Items: items, Origins: origins}.normalized()
}

func lessItem(a, b ListItem) bool {
	if a.Value != b.Value {
		return a.Value < b.Value
	}
	if a.Origin != b.Origin {
		return a.Origin < b.Origin
	}
	return a.Name < b.Name
}

func (l List) normalized() List {
	items := make([]ListItem, 0, len(l.Items))
	seen := map[string]struct{}{}
	origins := map[string]struct{}{}
	for _, o := range l.Origins {
		if o != "" {
			origins[o] = struct{}{}
		}
	}
	for _, it := range l.Items {
		k := it.FullName()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		items = append(items, it)
		if it.Origin != "" {
			origins[it.Origin] = struct{}{}
		}
	}
	sort.Slice(items, func(i, j int) bool { return lessItem(items[i], items[j]) })
	out := List{Items: items}
	if len(origins) > 0 {
		out.Origins = make([]string, 0, len(origins))
		for o := range origins {
			out.Origins = append(out.Origins, o)
		}
		sort.Strings(out.Origins)
	}
	return out
}

func (l List) has(it ListItem) bool {
	for _, x := range l.Items {
		if x.Origin == it.Origin && x.Name == it.Name {
			return true
		}
	}
	return false
}

func (l List) Union(o List) List {
	items := append(append([]ListItem{}, l.Items...), o.Items...)
	origins := append(append([]string{}, l.Origins...), o.Origins...)
	return List{Items: items, Origins: origins}.normalized()
}

func (l List) Without(o List) List {
	items := make([]ListItem, 0, len(l.Items))
	for _, it := range l.Items {
		if !o.has(it) {
			items = append(items, it)
		}
	}
	return List{Items: items, Origins: l.Origins}.normalized()
}

func (l List) Intersect(o List) List {
	items := make([]ListItem, 0, len(l.Items))
	for _, it := range l.Items {
		if o.has(it) {
			items = append(items, it)
		}
	}
	return List{Items: items, Origins: l.Origins}.normalized()
}

// Contains reports whether every item of o is in l. An empty o is never
// contained, matching how authors use `?` as "has this item".
func (l List) Contains(o List) bool {
	if len(o.Items) == 0 {
		return false
	}
	for _, it := range o.Items {
		if !l.has(it) {
			return false
		}
	}
	return true
}

func (l List) Equal(o List) bool {
	if len(l.Items) != len(o.Items) {
		return false
	}
	for i := range l.Items {
		if l.Items[i].Origin != o.Items[i].Origin || l.Items[i].Name != o.Items[i].Name {
			return false
		}
	}
	return true
}

func (l List) Min() (ListItem, bool) {
	if len(l.Items) == 0 {
		return ListItem{}, false
	}
	return l.Items[0], true
}

func (l List) Max() (ListItem, bool) {
	if len(l.Items) == 0 {
		return ListItem{}, false
	}
	return l.Items[len(l.Items)-1], true
}

func (l List) Count() int { return len(l.Items) }

func (l List) String() string {
	names := make([]string, 0, len(l.Items))
	for _, it := range l.Items {
		names = append(names, it.Name)
	}
	return strings.Join(names, ", ")
}
