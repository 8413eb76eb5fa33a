package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// JoinPath appends one component to a container path.
func JoinPath(base, seg string) string {
	if base == "" {
		return seg
	}
	return base + "." + seg
}

// SplitPath returns the components of an absolute path.
func SplitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}

// LinkError lists every target that did not resolve.
type LinkError struct {
	Unresolved []string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("graph: %d unresolved target(s): %s", len(e.Unresolved), strings.Join(e.Unresolved, ", "))
}

// Link assigns parents and paths, builds the path index and checks that every
// target named by an instruction exists. It must run before a Story is used.
func Link(s *Story) error {
	if s.Root == nil {
		return fmt.Errorf("graph: missing root container")
	}
	if s.Strings == nil {
		s.Strings = []string{}
	}
	s.index = map[string]*Container{}
	if err := s.linkContainer(s.Root, nil, -1, ""); err != nil {
		return err
	}

	var bad []string
	check := func(where, target string) {
		if _, ok := s.index[target]; !ok {
			bad = append(bad, fmt.Sprintf("%q (from %q)", target, where))
		}
	}
	s.Walk(func(c *Container) {
		for _, el := range c.Content {
			in := el.Instr
			if in == nil {
				continue
			}
			switch in.Op {
			case OpDivert, OpChoice, OpCall, OpThread, OpPushDivert, OpVisits:
				check(c.path, in.Target)
			case OpTunnel:
				if in.Name == "" {
					check(c.path, in.Target)
				}
			case OpTunnelReturn:
				if in.Target != "" {
					check(c.path, in.Target)
				}
			case OpCallExternal:
				if in.Target != "" {
					check(c.path, in.Target)
				}
			case OpText, OpTag, OpPushStr:
				if in.Str < 0 || in.Str >= len(s.Strings) {
					bad = append(bad, fmt.Sprintf("string #%d (from %q)", in.Str, c.path))
				}
			}
		}
	})
	for _, e := range s.Externals {
		if e.Fallback != "" {
			check("EXTERNAL "+e.Name, e.Fallback)
		}
	}
	if len(bad) > 0 {
		return &LinkError{Unresolved: bad}
	}

	b, err := Encode(s)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	s.digest = hex.EncodeToString(sum[:])
	return nil
}

func (s *Story) linkContainer(c, parent *Container, idx int, path string) error {
	if _, dup := s.index[path]; dup {
		return fmt.Errorf("graph: duplicate container path %q", path)
	}
	if c.Content == nil {
		c.Content = []Element{}
	}
	c.parent = parent
	c.indexInParent = idx
	c.path = path
	s.index[path] = c

	for i, el := range c.Content {
		sub := el.Container
		if sub == nil {
			continue
		}
		seg := sub.Name
		if seg == "" {
			seg = strconv.Itoa(i)
		}
		if err := s.linkContainer(sub, c, i, JoinPath(path, seg)); err != nil {
			return err
		}
	}
	for _, name := range sortedNames(c.Named) {
		sub := c.Named[name]
		if sub.Name == "" {
			sub.Name = name
		}
		if sub.Name != name {
			return fmt.Errorf("graph: named container %q stored under %q", sub.Name, name)
		}
		if err := s.linkContainer(sub, c, -1, JoinPath(path, name)); err != nil {
			return err
		}
	}
	return nil
}

func sortedNames(m map[string]*Container) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Walk visits every container depth first in a deterministic order.
func (s *Story) Walk(fn func(c *Container)) {
	var walk func(c *Container)
	walk = func(c *Container) {
		fn(c)
		for _, el := range c.Content {
			if el.Container != nil {
				walk(el.Container)
			}
		}
		for _, name := range sortedNames(c.Named) {
			walk(c.Named[name])
		}
	}
	if s.Root != nil {
		walk(s.Root)
	}
}

// Paths returns every container path in walk order.
func (s *Story) Paths() []string {
	var out []string
	s.Walk(func(c *Container) { out = append(out, c.path) })
	return out
}
