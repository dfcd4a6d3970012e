// Package jsonld is the document resolver collaborator: it fetches and caches
// remote JSON documents and exposes them as a queryable graph of subjects.
// Documents are assumed to be compacted ActivityStreams JSON; nested objects
// that carry their own id become subjects of their own.
package jsonld

// Graph holds documents loaded during a single request or delivery step,
// indexed by subject id.
type Graph struct {
	docs map[string]map[string]any
}

func NewGraph() *Graph {
	return &Graph{docs: make(map[string]map[string]any)}
}

// Add indexes a document and, recursively, every nested object with an id.
func (g *Graph) Add(doc map[string]any) {
	if id, ok := doc["id"].(string); ok && id != "" {
		g.docs[id] = doc
	}
	for _, v := range doc {
		g.addValue(v)
	}
}

func (g *Graph) addValue(v any) {
	switch t := v.(type) {
	case map[string]any:
		g.Add(t)
	case []any:
		for _, item := range t {
			g.addValue(item)
		}
	}
}

// alias indexes an already-added document under a second id (fetch URL).
func (g *Graph) alias(id string, doc map[string]any) {
	g.docs[id] = doc
}

// Node returns the document for a subject, or nil.
func (g *Graph) Node(id string) map[string]any { return g.docs[id] }

// Has reports whether a subject has been loaded.
func (g *Graph) Has(id string) bool { return g.docs[id] != nil }
