package app

import "sync"

// handleMap provides a concurrent store over chat handles
type handleMap struct {
	// handles is the underlying storage node id -> handle
	handles sync.Map
}

func makeHandleMap() *handleMap {
	return &handleMap{}
}

// set will set the handle for a given node
func (hmap *handleMap) set(node, handle string) {
	hmap.handles.Store(node, handle)
}

// get will return a short form of the node id if no handle is present
func (hmap *handleMap) get(node string) string {
	res, ok := hmap.handles.Load(node)
	if !ok {
		return shortID(node)
	}
	// we know this is safe because we control storage
	return res.(string)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
