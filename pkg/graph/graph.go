package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hindsight-sh/hindsight/pkg/types"
)

// NodeType classifies a graph node.
type NodeType string

const (
	NodeFile       NodeType = "file"
	NodeRepository NodeType = "repo"
	NodeURL        NodeType = "url"
	NodeDomain     NodeType = "domain"
	NodeCommand    NodeType = "command"
	NodeProcess    NodeType = "process"
)

// maxNodeValue bounds a node's stored value so long URLs and command lines
// cannot bloat the snapshot.
const maxNodeValue = 200

// Node is an entity observed in the event stream.
type Node struct {
	ID         string    `json:"id"`
	Type       NodeType  `json:"node_type"`
	Value      string    `json:"value"`
	EventCount int64     `json:"event_count"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Neighbor pairs a node with the weight of the connecting edge.
type Neighbor struct {
	Node   *Node   `json:"node"`
	Weight float64 `json:"weight"`
}

// Stats summarizes the graph.
type Stats struct {
	Nodes       int              `json:"nodes"`
	Edges       int              `json:"edges"`
	Components  int              `json:"components"`
	Density     float64          `json:"density"`
	NodesByType map[NodeType]int `json:"nodes_by_type"`
}

// Info bundles a node with its connectivity.
type Info struct {
	Node      *Node      `json:"node"`
	Degree    int        `json:"degree"`
	Neighbors []Neighbor `json:"neighbors"`
}

// Graph is the in-memory activity graph. Nodes are entities (files,
// repositories, domains, commands, processes); undirected weighted edges
// record how often two entities appear in the same activity context. All
// methods are safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	// edges[a][b] == edges[b][a]; both directions are stored.
	edges map[string]map[string]float64
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string]map[string]float64),
	}
}

func nodeID(t NodeType, value string) string {
	return string(t) + ":" + value
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// touchNode creates or updates a node, bumping its event count and last-seen
// time. Caller holds the write lock.
func (g *Graph) touchNode(t NodeType, value string, ts time.Time) *Node {
	value = truncate(value, maxNodeValue)
	id := nodeID(t, value)
	n, ok := g.nodes[id]
	if !ok {
		n = &Node{ID: id, Type: t, Value: value, FirstSeen: ts, LastSeen: ts}
		g.nodes[id] = n
	}
	n.EventCount++
	if ts.After(n.LastSeen) {
		n.LastSeen = ts
	}
	if ts.Before(n.FirstSeen) {
		n.FirstSeen = ts
	}
	return n
}

// bumpEdge adds delta to the undirected edge weight. Caller holds the write
// lock.
func (g *Graph) bumpEdge(a, b string, delta float64) {
	if a == b {
		return
	}
	if g.edges[a] == nil {
		g.edges[a] = make(map[string]float64)
	}
	if g.edges[b] == nil {
		g.edges[b] = make(map[string]float64)
	}
	g.edges[a][b] += delta
	g.edges[b][a] += delta
}

// AddEvent creates or refreshes the nodes an event mentions. Events never
// create edges on their own; edges come from window co-occurrence only, so an
// edge's weight stays the count of windows its endpoints shared.
func (g *Graph) AddEvent(e *types.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addEventLocked(e)
}

func (g *Graph) addEventLocked(e *types.Event) {
	switch e.Type {
	case types.FileCreate, types.FileModify, types.FileDelete, types.FileMove:
		g.touchNode(NodeFile, e.Subject, e.Timestamp)

	case types.GitCommit, types.GitBranchSwitch:
		if e.Repository != "" {
			g.touchNode(NodeRepository, e.Repository, e.Timestamp)
		}

	case types.BrowserVisit:
		g.touchNode(NodeURL, e.Subject, e.Timestamp)
		if domain, ok := e.Metadata["domain"].(string); ok && domain != "" {
			g.touchNode(NodeDomain, domain, e.Timestamp)
		}

	case types.ShellCommand:
		if token := firstToken(e.Subject); token != "" {
			g.touchNode(NodeCommand, token, e.Timestamp)
		}

	case types.ProcessStart, types.ProcessActive:
		if e.ProcessName != "" {
			g.touchNode(NodeProcess, e.ProcessName, e.Timestamp)
		}
	}
}

// AddWindow folds every event of a window into the graph and then links every
// pair of distinct entities active in it, incrementing existing edge weights.
// Browser activity contributes its domain node rather than individual urls.
func (g *Graph) AddWindow(w *types.ActivityWindow) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, e := range w.Events {
		g.addEventLocked(e)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, e := range w.Events {
		id, ok := windowNodeID(e)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			g.bumpEdge(ids[i], ids[j], 1)
		}
	}
}

// windowNodeID picks the entity an event contributes to window co-occurrence.
func windowNodeID(e *types.Event) (string, bool) {
	switch e.Type {
	case types.FileCreate, types.FileModify, types.FileDelete, types.FileMove:
		return nodeID(NodeFile, truncate(e.Subject, maxNodeValue)), true
	case types.GitCommit, types.GitBranchSwitch:
		if e.Repository == "" {
			return "", false
		}
		return nodeID(NodeRepository, truncate(e.Repository, maxNodeValue)), true
	case types.BrowserVisit:
		if domain, ok := e.Metadata["domain"].(string); ok && domain != "" {
			return nodeID(NodeDomain, truncate(domain, maxNodeValue)), true
		}
		return "", false
	case types.ShellCommand:
		token := firstToken(e.Subject)
		if token == "" {
			return "", false
		}
		return nodeID(NodeCommand, truncate(token, maxNodeValue)), true
	case types.ProcessStart, types.ProcessActive:
		if e.ProcessName == "" {
			return "", false
		}
		return nodeID(NodeProcess, truncate(e.ProcessName, maxNodeValue)), true
	}
	return "", false
}

func firstToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Find returns nodes whose value contains the query, case-insensitively,
// most recently seen first.
func (g *Graph) Find(query string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	query = strings.ToLower(query)
	var matches []*Node
	for _, n := range g.nodes {
		if strings.Contains(strings.ToLower(n.Value), query) {
			matches = append(matches, copyNode(n))
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].LastSeen.After(matches[j].LastSeen)
	})
	return matches
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[id]; ok {
		return copyNode(n)
	}
	return nil
}

// Neighbors returns a node's direct neighbors sorted by descending edge
// weight.
func (g *Graph) Neighbors(id string) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.neighborsLocked(id)
}

// NodeInfo returns a node together with its degree and neighbors, or nil for
// an unknown id.
func (g *Graph) NodeInfo(id string) *Info {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	neighbors := g.neighborsLocked(id)
	return &Info{Node: copyNode(n), Degree: len(neighbors), Neighbors: neighbors}
}

func (g *Graph) neighborsLocked(id string) []Neighbor {
	var out []Neighbor
	for other, weight := range g.edges[id] {
		if n, ok := g.nodes[other]; ok {
			out = append(out, Neighbor{Node: copyNode(n), Weight: weight})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Node.ID < out[j].Node.ID
	})
	return out
}

// Related walks the graph breadth-first from id, up to maxDepth hops. Each
// node is visited at most once; edges lighter than minWeight are not
// traversed. A reached node accumulates the weights of the edges that led to
// it; results are sorted by accumulated weight descending.
func (g *Graph) Related(id string, maxDepth int, minWeight float64) []Neighbor {
	if maxDepth <= 0 {
		maxDepth = 2
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[id]; !ok {
		return nil
	}

	weights := make(map[string]float64)
	visited := map[string]bool{id: true}
	frontier := []string{id}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			for other, w := range g.edges[cur] {
				if visited[other] || w < minWeight {
					continue
				}
				weights[other] += w
				visited[other] = true
				next = append(next, other)
			}
		}
		frontier = next
	}

	var out []Neighbor
	for other, w := range weights {
		if n, ok := g.nodes[other]; ok {
			out = append(out, Neighbor{Node: copyNode(n), Weight: w})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Node.ID < out[j].Node.ID
	})
	return out
}

// MostConnected returns the n nodes of highest degree. Weight carries the
// degree.
func (g *Graph) MostConnected(n int) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Neighbor
	for id, node := range g.nodes {
		out = append(out, Neighbor{Node: copyNode(node), Weight: float64(len(g.edges[id]))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Node.ID < out[j].Node.ID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Components returns the graph's connected components as groups of node ids,
// largest first. Isolated nodes are components of size one.
func (g *Graph) Components() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.componentsLocked()
}

func (g *Graph) componentsLocked() [][]string {
	visited := make(map[string]bool, len(g.nodes))
	var components [][]string
	for id := range g.nodes {
		if visited[id] {
			continue
		}
		var members []string
		stack := []string{id}
		visited[id] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			members = append(members, cur)
			for other := range g.edges[cur] {
				if !visited[other] {
					visited[other] = true
					stack = append(stack, other)
				}
			}
		}
		sort.Strings(members)
		components = append(components, members)
	}
	sort.Slice(components, func(i, j int) bool {
		if len(components[i]) != len(components[j]) {
			return len(components[i]) > len(components[j])
		}
		return components[i][0] < components[j][0]
	})
	return components
}

// Summary returns node and edge totals, component count and density.
func (g *Graph) Summary() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Stats{
		Nodes:       len(g.nodes),
		NodesByType: make(map[NodeType]int),
	}
	for _, n := range g.nodes {
		stats.NodesByType[n.Type]++
	}
	total := 0
	for _, adj := range g.edges {
		total += len(adj)
	}
	stats.Edges = total / 2
	stats.Components = len(g.componentsLocked())
	if stats.Nodes > 1 {
		possible := float64(stats.Nodes) * float64(stats.Nodes-1) / 2
		stats.Density = float64(stats.Edges) / possible
	}
	return stats
}

// Clear discards all nodes and edges.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[string]*Node)
	g.edges = make(map[string]map[string]float64)
}

func copyNode(n *Node) *Node {
	c := *n
	return &c
}

var (
	nodesBucket = []byte("nodes")
	edgesBucket = []byte("edges")
)

// Save writes an atomic snapshot of the graph to a bolt database at path,
// replacing any previous snapshot.
func (g *Graph) Save(path string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("failed to open graph snapshot %s: %w", path, err)
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{nodesBucket, edgesBucket} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		nb := tx.Bucket(nodesBucket)
		for id, n := range g.nodes {
			data, err := json.Marshal(n)
			if err != nil {
				return err
			}
			if err := nb.Put([]byte(id), data); err != nil {
				return err
			}
		}
		eb := tx.Bucket(edgesBucket)
		for id, adj := range g.edges {
			if len(adj) == 0 {
				continue
			}
			data, err := json.Marshal(adj)
			if err != nil {
				return err
			}
			if err := eb.Put([]byte(id), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save graph snapshot: %w", err)
	}
	return nil
}

// Load replaces the graph's contents with the snapshot at path. It reports
// whether a snapshot existed; a missing file leaves the graph empty.
func (g *Graph) Load(path string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return false, fmt.Errorf("failed to open graph snapshot %s: %w", path, err)
	}
	defer db.Close()

	nodes := make(map[string]*Node)
	edges := make(map[string]map[string]float64)
	err = db.View(func(tx *bolt.Tx) error {
		if nb := tx.Bucket(nodesBucket); nb != nil {
			if err := nb.ForEach(func(k, v []byte) error {
				var n Node
				if err := json.Unmarshal(v, &n); err != nil {
					return err
				}
				nodes[string(k)] = &n
				return nil
			}); err != nil {
				return err
			}
		}
		if eb := tx.Bucket(edgesBucket); eb != nil {
			if err := eb.ForEach(func(k, v []byte) error {
				adj := make(map[string]float64)
				if err := json.Unmarshal(v, &adj); err != nil {
					return err
				}
				edges[string(k)] = adj
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to load graph snapshot: %w", err)
	}

	g.mu.Lock()
	g.nodes = nodes
	g.edges = edges
	g.mu.Unlock()
	return true, nil
}
