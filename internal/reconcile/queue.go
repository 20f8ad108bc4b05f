package reconcile

import (
	"sort"

	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

// Batch is the collapsed form of every queued change for one entity.
type Batch struct {
	Kind     schema.Kind
	EntityID string

	// Change is the single change to replay, or nil when the chain
	// cancels out (created and deleted while offline).
	Change *schema.Change

	// Seqs lists the outbox entries folded into this batch, oldest first.
	Seqs []int64
}

// Key identifies the entity of the batch.
func (b *Batch) Key() string {
	return string(b.Kind) + "/" + b.EntityID
}

// Collapse folds queued changes into one batch per entity.
//
// Rules, applied oldest to newest:
//
//	create, update...        -> create with the latest state
//	create, ..., delete      -> nothing
//	update, update...        -> update with the latest state
//	..., delete              -> delete
//
// The folded change keeps the base updatedAt of the entity's first change,
// and batches are ordered by the position of that first change so a
// project created offline is replayed before its todos.
func Collapse(pending []*schema.Change) []*Batch {
	byKey := make(map[string]*Batch)
	var order []*Batch
	first := make(map[*Batch]int64)

	for _, c := range pending {
		key := c.Key()
		b, ok := byKey[key]
		if !ok {
			b = &Batch{Kind: c.Kind, EntityID: c.EntityID}
			byKey[key] = b
			order = append(order, b)
			first[b] = c.Seq
			b.Change = cloneChange(c)
			b.Seqs = append(b.Seqs, c.Seq)
			continue
		}
		b.Seqs = append(b.Seqs, c.Seq)
		b.Change = fold(b, c)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return first[order[i]] < first[order[j]]
	})
	return order
}

// fold merges next into the batch's current change.
func fold(b *Batch, next *schema.Change) *schema.Change {
	cur := b.Change
	if cur == nil {
		// Chain cancelled earlier; the entity starts over from next.
		return cloneChange(next)
	}

	switch cur.Op {
	case schema.OpCreate:
		switch next.Op {
		case schema.OpDelete:
			return nil
		default:
			return withPayload(cur, schema.OpCreate, next)
		}
	case schema.OpUpdate:
		switch next.Op {
		case schema.OpDelete:
			d := cloneChange(cur)
			d.Op = schema.OpDelete
			d.Project, d.Todo = nil, nil
			return d
		default:
			return withPayload(cur, schema.OpUpdate, next)
		}
	default: // delete
		return withPayload(cur, next.Op, next)
	}
}

// withPayload returns cur with op and next's payload, keeping cur's base
// and queue position.
func withPayload(cur *schema.Change, op schema.Op, next *schema.Change) *schema.Change {
	c := cloneChange(cur)
	c.Op = op
	c.Project = next.Project
	c.Todo = next.Todo
	c.QueuedAt = next.QueuedAt
	return c
}

func cloneChange(c *schema.Change) *schema.Change {
	cp := *c
	return &cp
}
