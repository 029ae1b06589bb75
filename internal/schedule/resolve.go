package schedule

// Resolve returns the candidate slots for date. A closed weekday yields no
// slots. An override for that exact date replaces the template and only its
// available entries are offered; otherwise the template slots are offered.
// Order is preserved as stored, never re-sorted.
func Resolve(tmpl WeeklyTemplate, override *DateOverride, date Date) []Slot {
	if !tmpl.WorksOn(date.Weekday()) {
		return []Slot{}
	}
	if override != nil && override.Date == date {
		out := make([]Slot, 0, len(override.Slots))
		for _, s := range override.Slots {
			if s.Available {
				out = append(out, s.Slot)
			}
		}
		return out
	}
	return tmpl.SlotList()
}

// Block marks slots unavailable on date and returns the new override.
// existing is never modified. When there is no override yet, the new one is
// seeded from the template so the other default slots stay bookable.
func Block(tmpl WeeklyTemplate, existing *DateOverride, date Date, slots []Slot) DateOverride {
	var next DateOverride
	if existing != nil {
		next = existing.clone()
	} else {
		next = DateOverride{Date: date, Slots: make([]OverrideSlot, 0, len(tmpl.Slots)+len(slots))}
		for _, s := range tmpl.Slots {
			next.Slots = append(next.Slots, OverrideSlot{Slot: s.Slot, Available: true})
		}
	}

	for _, s := range slots {
		if i := indexOfSlot(next.Slots, s); i >= 0 {
			next.Slots[i].Available = false
			continue
		}
		next.Slots = append(next.Slots, OverrideSlot{Slot: s, Available: false, Appended: true})
	}
	return next
}

// Unblock marks matching entries available. Entries that Block appended for
// slots the date never offered are dropped instead, so the slot goes back to
// not being offered. It returns nil when the override should be deleted
// (every remaining entry is available) and returns existing unchanged when
// nothing matched a blocked entry.
func Unblock(existing *DateOverride, slots []Slot) *DateOverride {
	if existing == nil {
		return nil
	}

	next := existing.clone()
	changed := false
	for _, s := range slots {
		i := indexOfSlot(next.Slots, s)
		if i < 0 || next.Slots[i].Available {
			continue
		}
		if next.Slots[i].Appended {
			next.Slots = append(next.Slots[:i], next.Slots[i+1:]...)
		} else {
			next.Slots[i].Available = true
		}
		changed = true
	}
	if !changed {
		return existing
	}
	if next.AllAvailable() {
		return nil
	}
	return &next
}
