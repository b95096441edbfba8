package graph

import (
	"fmt"
	"slices"
	"strings"
)

// Graph is a compiled, immutable workflow: stages bound to handlers, one
// outgoing edge per stage, an entry and a set of interrupt points.
type Graph[S any] struct {
	name       string
	version    string
	order      []string
	index      map[string]int
	stages     map[string]Stage[S]
	edges      map[string]Edge[S]
	entry      string
	interrupts map[string]bool
	rules      map[RuleKind]Rule[S]
	seeds      []string
}

// CompileOption configures Compile.
type CompileOption func(*compileConfig)

type compileConfig struct {
	seedFields     []string
	decisionFields []string
}

// WithSeedFields declares the fields present before the entry stage runs.
func WithSeedFields(fields ...string) CompileOption {
	return func(c *compileConfig) { c.seedFields = append(c.seedFields, fields...) }
}

// WithDecisionFields declares the fields merged in when a paused instance
// is resumed. They are available to interrupt stages and everything after.
func WithDecisionFields(fields ...string) CompileOption {
	return func(c *compileConfig) { c.decisionFields = append(c.decisionFields, fields...) }
}

// Compile turns a definition into an executable graph.
//
// Edges are derived from declaration order:
//   - every stage goes to the next one by default, the last one to End;
//   - an AttachUpstream rule declared on stage D replaces the default edge of
//     the nearest earlier stage P writing the rule's field with a conditional
//     edge: true goes to D, false to the first stage after D that is not an
//     interrupt point;
//   - an AttachSelf rule declared on stage D gives D a conditional edge:
//     true goes to End, false to the next stage.
//
// Compile is pure. Any inconsistency is returned as *ConfigError.
func Compile[S any](def Definition, stages map[string]Stage[S], rules map[RuleKind]Rule[S], opts ...CompileOption) (*Graph[S], error) {
	var cfg compileConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(def.Stages) == 0 {
		return nil, &ConfigError{Message: "definition has no stages"}
	}

	g := &Graph[S]{
		name:       def.Name,
		version:    def.Version,
		order:      make([]string, 0, len(def.Stages)),
		index:      make(map[string]int, len(def.Stages)),
		stages:     make(map[string]Stage[S], len(def.Stages)),
		edges:      make(map[string]Edge[S], len(def.Stages)),
		interrupts: make(map[string]bool, len(def.InterruptBefore)),
		rules:      rules,
		seeds:      slices.Clone(cfg.seedFields),
	}

	for i, sd := range def.Stages {
		if sd.ID == "" {
			return nil, configErrorf("", "stage %d has no id", i)
		}
		if sd.ID == End {
			return nil, configErrorf(sd.ID, "id is reserved")
		}
		if _, dup := g.index[sd.ID]; dup {
			return nil, configErrorf(sd.ID, "duplicate stage id")
		}
		st, ok := stages[sd.ID]
		if !ok || st.Node == nil {
			return nil, configErrorf(sd.ID, "no handler registered")
		}
		g.index[sd.ID] = i
		g.order = append(g.order, sd.ID)
		g.stages[sd.ID] = st
	}

	g.entry = def.EntryStage()
	if _, ok := g.index[g.entry]; !ok {
		return nil, configErrorf(g.entry, "entry stage is not declared")
	}

	for _, id := range def.InterruptBefore {
		if _, ok := g.index[id]; !ok {
			return nil, configErrorf(id, "interrupt point is not declared")
		}
		g.interrupts[id] = true
	}

	// Default edges.
	for i, id := range g.order {
		to := End
		if i+1 < len(g.order) {
			to = g.order[i+1]
		}
		g.edges[id] = Edge[S]{From: id, Kind: EdgeFixed, To: to}
	}

	// Rule edges.
	for i, sd := range def.Stages {
		if sd.Routing == "" {
			continue
		}
		rule, ok := rules[sd.Routing]
		if !ok {
			return nil, configErrorf(sd.ID, "unknown routing rule %q", sd.Routing)
		}
		if rule.When == nil {
			return nil, configErrorf(sd.ID, "routing rule %q has no predicate", sd.Routing)
		}

		switch rule.Attach {
		case AttachUpstream:
			producer := g.producerBefore(i, rule.Field)
			if producer == "" {
				return nil, configErrorf(sd.ID, "routing rule %q tests %q but no earlier stage writes it", sd.Routing, rule.Field)
			}
			skip := g.skipTarget(i)
			if existing := g.edges[producer]; existing.Kind == EdgeConditional {
				return nil, configErrorf(producer, "already routed by rule %q", existing.Rule)
			}
			g.edges[producer] = Edge[S]{
				From: producer, Kind: EdgeConditional,
				Rule: sd.Routing, When: rule.When,
				Then: sd.ID, Else: skip,
			}
		case AttachSelf:
			if i+1 >= len(g.order) {
				return nil, configErrorf(sd.ID, "terminal stage must have a single edge to the end")
			}
			g.edges[sd.ID] = Edge[S]{
				From: sd.ID, Kind: EdgeConditional,
				Rule: sd.Routing, When: rule.When,
				Then: End, Else: g.order[i+1],
			}
		default:
			return nil, configErrorf(sd.ID, "routing rule %q has unknown attach mode %d", sd.Routing, rule.Attach)
		}
	}

	if err := g.validate(cfg); err != nil {
		return nil, err
	}
	return g, nil
}

// producerBefore returns the nearest stage before position i writing field.
func (g *Graph[S]) producerBefore(i int, field string) string {
	for j := i - 1; j >= 0; j-- {
		if slices.Contains(g.stages[g.order[j]].Writes, field) {
			return g.order[j]
		}
	}
	return ""
}

// skipTarget returns the first stage after position i that is not an
// interrupt point, or End.
func (g *Graph[S]) skipTarget(i int) string {
	for j := i + 1; j < len(g.order); j++ {
		if !g.interrupts[g.order[j]] {
			return g.order[j]
		}
	}
	return End
}

func (g *Graph[S]) validate(cfg compileConfig) error {
	last := g.order[len(g.order)-1]
	if e := g.edges[last]; e.Kind != EdgeFixed || e.To != End {
		return configErrorf(last, "terminal stage must have a single edge to the end")
	}

	for _, id := range g.order {
		for _, to := range g.edges[id].Targets() {
			if to == End {
				continue
			}
			j, ok := g.index[to]
			if !ok {
				return configErrorf(id, "edge targets undeclared stage %q", to)
			}
			if j <= g.index[id] {
				return configErrorf(id, "edge to %q does not point forward", to)
			}
		}
	}

	reachable := map[string]bool{g.entry: true}
	for _, id := range g.order[g.index[g.entry]:] {
		if !reachable[id] {
			continue
		}
		for _, to := range g.edges[id].Targets() {
			reachable[to] = true
		}
	}
	for _, id := range g.order {
		if !reachable[id] {
			return configErrorf(id, "stage is unreachable from entry %q", g.entry)
		}
	}

	return g.checkReads(cfg, reachable)
}

// checkReads propagates the set of fields guaranteed on every path and
// rejects stages that read anything outside it.
func (g *Graph[S]) checkReads(cfg compileConfig, reachable map[string]bool) error {
	guaranteed := map[string]map[string]bool{g.entry: toSet(cfg.seedFields)}

	for _, id := range g.order {
		if !reachable[id] {
			continue
		}
		in := guaranteed[id]
		if g.interrupts[id] {
			in = union(in, toSet(cfg.decisionFields))
		}

		st := g.stages[id]
		var missing []string
		for _, f := range st.Reads {
			if !in[f] {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			return configErrorf(id, "reads %s which may be unset on some path", strings.Join(missing, ", "))
		}

		out := union(in, toSet(st.Writes))
		for _, to := range g.edges[id].Targets() {
			if to == End {
				continue
			}
			if prev, seen := guaranteed[to]; seen {
				guaranteed[to] = intersect(prev, out)
			} else {
				guaranteed[to] = out
			}
		}
	}
	return nil
}

func toSet(fields []string) map[string]bool {
	s := make(map[string]bool, len(fields))
	for _, f := range fields {
		s[f] = true
	}
	return s
}

func union(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

func intersect(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

// Name returns the definition name.
func (g *Graph[S]) Name() string { return g.name }

// Version returns the definition version.
func (g *Graph[S]) Version() string { return g.version }

// Entry returns the entry stage.
func (g *Graph[S]) Entry() string { return g.entry }

// Stages returns the stage ids in declaration order.
func (g *Graph[S]) Stages() []string { return slices.Clone(g.order) }

// Stage returns the compiled stage for id.
func (g *Graph[S]) Stage(id string) (Stage[S], bool) {
	st, ok := g.stages[id]
	return st, ok
}

// Edge returns the outgoing edge of id.
func (g *Graph[S]) Edge(id string) (Edge[S], bool) {
	e, ok := g.edges[id]
	return e, ok
}

// IsInterrupt reports whether execution pauses before id.
func (g *Graph[S]) IsInterrupt(id string) bool { return g.interrupts[id] }

// Interrupts returns the interrupt points in declaration order.
func (g *Graph[S]) Interrupts() []string {
	var out []string
	for _, id := range g.order {
		if g.interrupts[id] {
			out = append(out, id)
		}
	}
	return out
}

// Next resolves the successor of node over the post-merge state. It returns
// End for the terminal stage and "" only for an unknown node.
func (g *Graph[S]) Next(node string, state S) string {
	e, ok := g.edges[node]
	if !ok {
		return ""
	}
	return e.resolve(state)
}

// Mermaid renders the graph as a Mermaid flowchart.
func (g *Graph[S]) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD;\n")
	b.WriteString("\t__start__([start]);\n")
	for _, id := range g.order {
		if g.interrupts[id] {
			fmt.Fprintf(&b, "\t%s[/%s/];\n", id, id)
		} else {
			fmt.Fprintf(&b, "\t%s(%s);\n", id, id)
		}
	}
	fmt.Fprintf(&b, "\t%s([end]);\n", End)
	fmt.Fprintf(&b, "\t__start__ --> %s;\n", g.entry)
	for _, id := range g.order {
		e := g.edges[id]
		if e.Kind == EdgeFixed {
			fmt.Fprintf(&b, "\t%s --> %s;\n", id, e.To)
			continue
		}
		label := string(e.Rule)
		if r, ok := g.rules[e.Rule]; ok && r.Label != "" {
			label = r.Label
		}
		fmt.Fprintf(&b, "\t%s -.->|\"%s\"| %s;\n", id, label, e.Then)
		fmt.Fprintf(&b, "\t%s -.-> %s;\n", id, e.Else)
	}
	return b.String()
}
