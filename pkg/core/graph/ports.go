// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/n3/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ProducerID identifies the node instance that publishes a port within a composite.
type ProducerID int

// External is the ProducerID of the composite's own inputs: they are available before any node runs.
const External ProducerID = 0

// PortRef identifies a single named value published by a specific node (its producer) of a composite.
//
// PortRef is comparable: two references are equal if both the producer and the name match.
type PortRef struct {
	Producer ProducerID
	Name     string
}

// Ref creates a PortRef for the output name of the given producer.
func Ref(producer ProducerID, name string) PortRef {
	return PortRef{Producer: producer, Name: name}
}

// ExternalRef creates the PortRef of the composite input with the given name.
func ExternalRef(name string) PortRef {
	return PortRef{Producer: External, Name: name}
}

// IsExternal returns whether the port is a composite input.
func (p PortRef) IsExternal() bool { return p.Producer == External }

// String renders the port as "name$id", or "name$" for external inputs.
func (p PortRef) String() string {
	if p.IsExternal() {
		return p.Name + "$"
	}
	return fmt.Sprintf("%s$%d", p.Name, p.Producer)
}

// describe is used in error messages, to make the faulty port easy to locate.
func (p PortRef) describe() string {
	if p.IsExternal() {
		return fmt.Sprintf("port %s (external input %q)", p, p.Name)
	}
	return fmt.Sprintf("port %s (producer %d, name %q)", p, p.Producer, p.Name)
}

// ParsePortRef parses the format generated by PortRef.String: "name$id" or "name$".
// A plain "name" (without "$") is also accepted as an external input.
func ParsePortRef(s string) (PortRef, error) {
	idx := strings.LastIndexByte(s, '$')
	if idx < 0 {
		if s == "" {
			return PortRef{}, errors.New("empty port reference")
		}
		return ExternalRef(s), nil
	}
	name, idStr := s[:idx], s[idx+1:]
	if name == "" {
		return PortRef{}, errors.Errorf("port reference %q has no name", s)
	}
	if idStr == "" {
		return ExternalRef(name), nil
	}
	id, err := strconv.Atoi(idStr)
	if err != nil || id < 0 {
		return PortRef{}, errors.Errorf("port reference %q has an invalid producer id", s)
	}
	return Ref(ProducerID(id), name), nil
}

// Store maps ports to their values during one Composite.Execute call.
type Store map[PortRef]*tensors.Tensor

// Lookup returns the value of the port, or an error wrapping ErrPortNotFound.
func (s Store) Lookup(ref PortRef) (*tensors.Tensor, error) {
	value, found := s[ref]
	if !found {
		return nil, errors.Wrapf(ErrPortNotFound, "%s", ref.describe())
	}
	return value, nil
}

// Ports is what a node parameter reads: either a single PortRef or an arbitrarily nested list of Ports,
// for operations that take a list of tensors (e.g. concatenation).
//
// The zero value is an empty list.
type Ports struct {
	ref    PortRef
	items  []Ports
	single bool
}

// At returns Ports for a single PortRef.
func At(ref PortRef) Ports {
	return Ports{ref: ref, single: true}
}

// List returns Ports for a list of (possibly nested) Ports.
func List(items ...Ports) Ports {
	return Ports{items: items}
}

// ListOf returns Ports for a flat list of PortRef.
func ListOf(refs ...PortRef) Ports {
	items := make([]Ports, len(refs))
	for i, ref := range refs {
		items[i] = At(ref)
	}
	return List(items...)
}

// IsList returns whether the Ports is a list, as opposed to a single PortRef.
func (p Ports) IsList() bool { return !p.single }

// Ref returns the PortRef, if this is not a list.
func (p Ports) Ref() PortRef { return p.ref }

// Items returns the elements of the list, if this is a list.
func (p Ports) Items() []Ports { return p.items }

// Refs returns all PortRef, depth-first, flattening the nesting.
func (p Ports) Refs() []PortRef {
	if p.single {
		return []PortRef{p.ref}
	}
	var refs []PortRef
	for _, item := range p.items {
		refs = append(refs, item.Refs()...)
	}
	return refs
}

// String renders single ports as "name$id" and lists as "[a$1, [b$2, c$3]]".
func (p Ports) String() string {
	if p.single {
		return p.ref.String()
	}
	parts := make([]string, len(p.items))
	for i, item := range p.items {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Resolve looks up the values of the ports in the store, preserving the nesting exactly.
func (p Ports) Resolve(store Store) (Arg, error) {
	if p.single {
		value, err := store.Lookup(p.ref)
		if err != nil {
			return Arg{}, err
		}
		return TensorArg(value), nil
	}
	items := make([]Arg, len(p.items))
	for i, item := range p.items {
		var err error
		items[i], err = item.Resolve(store)
		if err != nil {
			return Arg{}, err
		}
	}
	return ListArg(items...), nil
}
