// Package hashchain links a batch of item hashes into a single chain result
// and produces, for every item, a proof that recomputes that result from the
// item alone.
//
// Linking is linear. With items h1..hN:
//
//	c1 = step([h1])
//	ci = step([c(i-1), hi])
//
// where step is digestlist.DigestHashStep. The chain result is cN. The proof
// of item i carries c(i-1) (absent for i = 1) and the following items
// h(i+1)..hN.
package hashchain

import (
	"encoding/asn1"
	"fmt"

	"github.com/dmitrijs2005/messagelog/internal/common"
	"github.com/dmitrijs2005/messagelog/internal/digestlist"
)

// Builder accumulates item hashes. It is not safe for concurrent use.
type Builder struct {
	method   digestlist.Method
	ordering digestlist.Ordering

	items    [][]byte
	links    [][]byte
	finished bool
}

func NewBuilder(method digestlist.Method, ordering digestlist.Ordering) *Builder {
	return &Builder{method: method, ordering: ordering}
}

// AddInputHash appends one item. Call order is the canonical order.
func (b *Builder) AddInputHash(h []byte) error {
	if b.finished {
		return common.ErrBuilderClosed
	}
	item := make([]byte, len(h))
	copy(item, h)

	var (
		link []byte
		err  error
	)
	if n := len(b.links); n == 0 {
		link, err = digestlist.DigestHashStep(b.method, b.ordering, [][]byte{item})
	} else {
		link, err = digestlist.DigestHashStep(b.method, b.ordering, [][]byte{b.links[n-1], item})
	}
	if err != nil {
		return fmt.Errorf("link item %d: %w", len(b.items), err)
	}

	b.items = append(b.items, item)
	b.links = append(b.links, link)
	return nil
}

// FinishBuilding closes the builder. An empty batch is rejected.
func (b *Builder) FinishBuilding() error {
	if b.finished {
		return nil
	}
	if len(b.items) == 0 {
		return common.ErrEmptyBatch
	}
	b.finished = true
	return nil
}

// Len returns the number of items added so far.
func (b *Builder) Len() int {
	return len(b.items)
}

// Result returns the raw chain result digest.
func (b *Builder) Result() ([]byte, error) {
	if !b.finished {
		return nil, common.ErrNotFinished
	}
	return b.links[len(b.links)-1], nil
}

// HashChainResult returns the chain result wrapped with label.
func (b *Builder) HashChainResult(label string) ([]byte, error) {
	res, err := b.Result()
	if err != nil {
		return nil, err
	}
	blob, err := asn1.Marshal(chainResult{
		Label:    label,
		Method:   b.method.OID,
		Ordering: asn1.Enumerated(b.ordering),
		Result:   res,
	})
	if err != nil {
		return nil, fmt.Errorf("encode chain result: %w", err)
	}
	return blob, nil
}

// HashChains returns one proof per item, in input order, each wrapped with label.
func (b *Builder) HashChains(label string) ([][]byte, error) {
	if !b.finished {
		return nil, common.ErrNotFinished
	}
	out := make([][]byte, len(b.items))
	for i := range b.items {
		p := chainProof{
			Label:     label,
			Method:    b.method.OID,
			Ordering:  asn1.Enumerated(b.ordering),
			Following: b.items[i+1:],
		}
		if i > 0 {
			p.Previous = b.links[i-1]
		}
		blob, err := asn1.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode proof %d: %w", i, err)
		}
		out[i] = blob
	}
	return out, nil
}
