// Package tools holds the capabilities the model can invoke during a turn.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/linkerlin/laterclaw/internal/llm"
	"github.com/linkerlin/laterclaw/internal/types"
)

// Tool is one capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() *llm.Schema
	// Call runs the tool. Rejections meant for the user come back as text;
	// errors are reserved for failures of the tool itself.
	Call(ctx context.Context, ec types.ExecContext, args map[string]any) (string, error)
}

// Registry holds every registered tool.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Catalog returns the tools available to one turn. With excludeScheduling
// the scheduling tool is left out, so the turn cannot create new events.
func (r *Registry) Catalog(excludeScheduling bool) *Catalog {
	c := &Catalog{byName: make(map[string]Tool, len(r.tools))}
	for name, t := range r.tools {
		if excludeScheduling && name == ScheduleToolName {
			continue
		}
		c.byName[name] = t
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c
}

// Catalog is the tool set of a single turn.
type Catalog struct {
	byName map[string]Tool
	names  []string
}

// Names returns the tool names in sorted order.
func (c *Catalog) Names() []string { return append([]string(nil), c.names...) }

func (c *Catalog) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

func (c *Catalog) Lookup(name string) (Tool, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// Defs converts the catalog into model tool definitions.
func (c *Catalog) Defs() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(c.names))
	for _, n := range c.names {
		t := c.byName[n]
		defs = append(defs, llm.ToolDef{Name: n, Description: t.Description(), Parameters: t.Parameters()})
	}
	return defs
}

func argString(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func stringProp(desc string, enum ...string) *llm.Schema {
	return &llm.Schema{Type: "string", Description: desc, Enum: enum}
}
