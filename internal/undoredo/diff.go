package undoredo

import "reflect"

// diffSnapshots computes the stack entries for one transaction by comparing
// the plain-value projections taken before and after it.
//
// Map keys are tracked individually so an entry can name the exact path it
// touched; ordered lists are treated as whole-value replacements at their
// own path, which keeps entry paths free of positional indices that would
// go stale under concurrent remote edits.
func diffSnapshots(before, after map[string]any) []Entry {
	var entries []Entry
	diffMaps(nil, before, after, &entries)
	return entries
}

func diffMaps(path []any, before, after map[string]any, entries *[]Entry) {
	for key, beforeValue := range before {
		afterValue, ok := after[key]
		if !ok {
			*entries = append(*entries, Entry{
				Props:      childPath(path, key),
				IsDeletion: true,
				Before:     beforeValue,
			})
			continue
		}
		diffValues(childPath(path, key), beforeValue, afterValue, entries)
	}
	for key, afterValue := range after {
		if _, ok := before[key]; !ok {
			*entries = append(*entries, Entry{
				Props:       childPath(path, key),
				IsInsertion: true,
				After:       afterValue,
			})
		}
	}
}

func diffValues(path []any, before, after any, entries *[]Entry) {
	beforeMap, beforeIsMap := before.(map[string]any)
	afterMap, afterIsMap := after.(map[string]any)
	if beforeIsMap && afterIsMap {
		diffMaps(path, beforeMap, afterMap, entries)
		return
	}
	if !reflect.DeepEqual(before, after) {
		*entries = append(*entries, Entry{Props: path, Before: before, After: after})
	}
}

func childPath(path []any, key string) []any {
	child := make([]any, 0, len(path)+1)
	child = append(child, path...)
	return append(child, key)
}
