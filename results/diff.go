package results

import "github.com/teranos/strata/graph"

type sectionChange struct {
	section Section
	index   int
	change  SectionChange
}

type objectChange struct {
	obj    *graph.Object
	from   *IndexPath
	to     *IndexPath
	change ChangeType
}

type diff struct {
	sections []sectionChange
	objects  []objectChange
}

func (d diff) empty() bool {
	return len(d.sections) == 0 && len(d.objects) == 0
}

func (d diff) count(change ChangeType) int {
	n := 0
	for _, oc := range d.objects {
		if oc.change == change {
			n++
		}
	}
	return n
}

// placement is where an object sits: its path, and its rank among the
// objects that stayed in the same section
type placement struct {
	path IndexPath
	rank int
}

func locate(sections []Section, keep func(id string) bool) map[string]placement {
	out := make(map[string]placement)
	for si, s := range sections {
		rank := 0
		for ii, o := range s.Objects {
			p := placement{path: IndexPath{Section: si, Item: ii}, rank: -1}
			if keep(o.ID()) {
				p.rank = rank
				rank++
			}
			out[o.ID()] = p
		}
	}
	return out
}

// computeDiff compares two fetches by object ID. Deletes come first in old
// order, then inserts, moves and updates in new order.
func computeDiff(old, cur []Section, updated map[string]bool) diff {
	var d diff

	oldNames := make(map[string]bool, len(old))
	for _, s := range old {
		oldNames[s.Name] = true
	}
	curNames := make(map[string]bool, len(cur))
	for _, s := range cur {
		curNames[s.Name] = true
	}
	for i, s := range old {
		if !curNames[s.Name] {
			d.sections = append(d.sections, sectionChange{section: s, index: i, change: SectionDelete})
		}
	}
	for i, s := range cur {
		if !oldNames[s.Name] {
			d.sections = append(d.sections, sectionChange{section: s, index: i, change: SectionInsert})
		}
	}

	oldSection := sectionsByID(old)
	curSection := sectionsByID(cur)
	stayed := func(id string) bool {
		was, inOld := oldSection[id]
		now, inCur := curSection[id]
		return inOld && inCur && was == now
	}
	before := locate(old, stayed)
	after := locate(cur, stayed)

	for _, s := range old {
		for _, o := range s.Objects {
			if _, ok := curSection[o.ID()]; !ok {
				from := before[o.ID()].path
				d.objects = append(d.objects, objectChange{obj: o, from: &from, change: Delete})
			}
		}
	}

	var moves, updates []objectChange
	for _, s := range cur {
		for _, o := range s.Objects {
			now := after[o.ID()]
			to := now.path
			if _, ok := oldSection[o.ID()]; !ok {
				d.objects = append(d.objects, objectChange{obj: o, to: &to, change: Insert})
				continue
			}
			was := before[o.ID()]
			if !stayed(o.ID()) || was.rank != now.rank {
				from := was.path
				moves = append(moves, objectChange{obj: o, from: &from, to: &to, change: Move})
				continue
			}
			if updated[o.ID()] {
				updates = append(updates, objectChange{obj: o, to: &to, change: Update})
			}
		}
	}
	d.objects = append(d.objects, moves...)
	d.objects = append(d.objects, updates...)
	return d
}

func sectionsByID(sections []Section) map[string]string {
	out := make(map[string]string)
	for _, s := range sections {
		for _, o := range s.Objects {
			out[o.ID()] = s.Name
		}
	}
	return out
}
