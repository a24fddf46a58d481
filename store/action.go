package store

import "sort"

// ActionKind is the kind of a document action.
type ActionKind int

const (
	Create ActionKind = iota
	Replace
	Put
	Get
	Delete
	Update
)

func (k ActionKind) String() string {
	switch k {
	case Create:
		return "Create"
	case Replace:
		return "Replace"
	case Put:
		return "Put"
	case Get:
		return "Get"
	case Delete:
		return "Delete"
	case Update:
		return "Update"
	default:
		return "Unknown"
	}
}

// ModOp is the kind of change a Mod applies.
type ModOp int

const (
	// ModSet sets the field to Value.
	ModSet ModOp = iota
	// ModRemove removes the field.
	ModRemove
	// ModIncrement adds the numeric Value to a top-level field, treating
	// a missing field as zero.
	ModIncrement
)

// Mod is a single field modification applied by an Update action.
type Mod struct {
	FieldPath string
	Value     Value
	Op        ModOp
}

// Action is a single operation on a document.
type Action struct {
	Kind ActionKind
	Doc  *Document

	// FieldPaths restricts the fields retrieved by a Get.
	FieldPaths []string

	// Mods lists the changes made by an Update.
	Mods []Mod

	// InAtomicWrite puts a write into the all-or-nothing transaction of
	// its RunActions call.
	InAtomicWrite bool

	index int
	key   string
}

// actionGroups is the result of classifying an action list.
type actionGroups struct {
	beforeGets []*Action
	gets       []*Action
	writes     []*Action
	atomic     []*Action
	afterGets  []*Action
}

// groupActions partitions actions into the five ordered groups of a
// RunActions call. A Get on a document that is written later in the list
// runs before the writes; a Get on a document written earlier runs after
// them. Every other Get runs concurrently with the writes. Each group keeps
// the original action order.
func groupActions(actions []*Action) actionGroups {
	var g actionGroups
	written := map[string]bool{}
	pendingGets := map[string][]*Action{}

	for _, a := range actions {
		if a.Kind == Get {
			if a.key != "" && written[a.key] {
				g.afterGets = append(g.afterGets, a)
				continue
			}
			if a.key != "" {
				pendingGets[a.key] = append(pendingGets[a.key], a)
			} else {
				g.gets = append(g.gets, a)
			}
			continue
		}
		if a.key != "" {
			if prior, ok := pendingGets[a.key]; ok {
				g.beforeGets = append(g.beforeGets, prior...)
				delete(pendingGets, a.key)
			}
			written[a.key] = true
		}
		if a.InAtomicWrite {
			g.atomic = append(g.atomic, a)
		} else {
			g.writes = append(g.writes, a)
		}
	}
	for _, gets := range pendingGets {
		g.gets = append(g.gets, gets...)
	}

	byIndex := func(as []*Action) {
		sort.Slice(as, func(i, j int) bool { return as[i].index < as[j].index })
	}
	byIndex(g.beforeGets)
	byIndex(g.gets)
	byIndex(g.afterGets)
	return g
}
