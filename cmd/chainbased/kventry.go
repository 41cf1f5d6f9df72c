package main

import (
	"encoding/json"

	"chainbase"
)

// KVEntry is the demo object type chainbased exposes over its wire
// protocol: a single string-keyed, string-valued record, unique on Key.
type KVEntry struct {
	chainbase.Base
	Key   string
	Value string
}

const (
	spaceDemo   = 0
	typeKVEntry = 1
)

func kvEntryDescriptor() chainbase.Descriptor[KVEntry] {
	return chainbase.Descriptor[KVEntry]{
		Space: spaceDemo,
		Type:  typeKVEntry,
		UniqueKeys: []chainbase.KeyExtractor[KVEntry]{
			{Name: "key", KeyOf: func(e *KVEntry) any { return e.Key }},
		},
		Encode: func(e *KVEntry) ([]byte, error) { return json.Marshal(e) },
	}
}
