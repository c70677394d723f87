// Package catalog loads the canonical tool/action definitions the
// orchestrator is allowed to dispatch to, resolves aliases, compiles JSON
// Schemas for every action's parameters, and renders a prompt section
// describing the tools available for a given task type.
//
// The catalog is loaded once at startup and is immutable afterwards — it
// is shared read-mostly across every Session (§3 Ownership, §5 Shared-
// resource policy).
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/relaymind/orchestrator/pkg/task"
)

// ActionDefinition is one (server, action) pair as loaded from the catalog
// document. ParameterSchema is a JSON Schema document (draft 2020-12
// subset) describing the action's payload.
type ActionDefinition struct {
	ServerName      string
	ActionName      string
	Description     string
	ParameterSchema map[string]any
	Aliases         []string
	TaskTypes       []task.Type // empty means "applies to every task type"

	// DefaultParam names the parameter a non-JSON (raw string) tag body
	// is wrapped under, per §4.2 step 2. Defaults to "input" when unset.
	DefaultParam string
}

// serverEntry is the internal, resolved-and-compiled form of one server's
// catalog entry.
type serverEntry struct {
	name          string
	instructions  string
	actions       map[string]*ActionDefinition   // canonical action name -> def
	actionAlias   map[string]string              // alias -> canonical action name
	schemas       map[string]*jsonschema.Schema  // canonical action name -> compiled schema
	defaultAction string
}

// Catalog is the process-wide, immutable tool registry (C8).
type Catalog struct {
	servers            map[string]*serverEntry // canonical server name -> entry
	serverAlias        map[string]string       // alias -> canonical server name
	sensitiveResources []SensitiveResource
}

// SensitiveResource declares one structured-response shape the Masking
// Service (C9) should scrub before a tool result reaches the conversation
// or the trajectory store. KindField/KindValues discriminate which
// documents the rule applies to (e.g. a manifest's "kind" field equal to
// "Secret"); Fields names the map keys within a matching document whose
// values get replaced wholesale. Declared per catalog rather than
// hardcoded in the masking package, so a deployment's tool servers (and
// what they echo back) decide what counts as sensitive, not the
// orchestrator binary.
type SensitiveResource struct {
	Name           string   `yaml:"name"`
	KindField      string   `yaml:"kind_field"`
	KindValues     []string `yaml:"kind_values"`
	ListKindField  string   `yaml:"list_kind_field"`
	Fields         []string `yaml:"fields"`
	ScanAnnotation string   `yaml:"scan_annotation"`
}

// document is the on-disk shape of the catalog file (§6.4).
type document struct {
	Servers            map[string]serverDoc `yaml:"servers"`
	SensitiveResources []SensitiveResource  `yaml:"sensitive_resources"`
}

type serverDoc struct {
	Aliases       []string              `yaml:"aliases"`
	Instructions  string                `yaml:"instructions"`
	DefaultAction string                `yaml:"default_action"`
	Actions       map[string]actionDoc  `yaml:"actions"`
}

type actionDoc struct {
	Description  string         `yaml:"description"`
	Parameters   map[string]any `yaml:"parameters"`
	Aliases      []string       `yaml:"aliases"`
	TaskTypes    []string       `yaml:"task_types"`
	DefaultParam string         `yaml:"default_param"`
}

// Load reads and compiles the catalog document at path.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %q: %w", path, err)
	}
	return LoadBytes(raw)
}

// LoadBytes parses and compiles a catalog document already in memory.
// Exposed separately from Load so tests can build a Catalog without
// touching the filesystem.
func LoadBytes(raw []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}

	c := &Catalog{
		servers:            make(map[string]*serverEntry, len(doc.Servers)),
		serverAlias:        make(map[string]string),
		sensitiveResources: doc.SensitiveResources,
	}

	for serverName, sd := range doc.Servers {
		entry := &serverEntry{
			name:          serverName,
			instructions:  sd.Instructions,
			actions:       make(map[string]*ActionDefinition, len(sd.Actions)),
			actionAlias:   make(map[string]string),
			schemas:       make(map[string]*jsonschema.Schema, len(sd.Actions)),
			defaultAction: sd.DefaultAction,
		}

		for actionName, ad := range sd.Actions {
			taskTypes := make([]task.Type, 0, len(ad.TaskTypes))
			for _, t := range ad.TaskTypes {
				taskTypes = append(taskTypes, task.Type(t))
			}
			defaultParam := ad.DefaultParam
			if defaultParam == "" {
				defaultParam = "input"
			}
			def := &ActionDefinition{
				ServerName:      serverName,
				ActionName:      actionName,
				Description:     ad.Description,
				ParameterSchema: ad.Parameters,
				Aliases:         ad.Aliases,
				TaskTypes:       taskTypes,
				DefaultParam:    defaultParam,
			}
			entry.actions[actionName] = def

			schema, err := compileSchema(serverName, actionName, ad.Parameters)
			if err != nil {
				return nil, err
			}
			entry.schemas[actionName] = schema

			for _, alias := range ad.Aliases {
				if existing, ok := entry.actionAlias[alias]; ok && existing != actionName {
					return nil, fmt.Errorf("catalog: action alias %q on server %q resolves to both %q and %q",
						alias, serverName, existing, actionName)
				}
				entry.actionAlias[alias] = actionName
			}
		}

		if entry.defaultAction != "" {
			if _, ok := entry.actions[entry.defaultAction]; !ok {
				return nil, fmt.Errorf("catalog: server %q default_action %q is not a defined action",
					serverName, entry.defaultAction)
			}
		}

		c.servers[serverName] = entry
		for _, alias := range sd.Aliases {
			if existing, ok := c.serverAlias[alias]; ok && existing != serverName {
				return nil, fmt.Errorf("catalog: server alias %q resolves to both %q and %q",
					alias, existing, serverName)
			}
			c.serverAlias[alias] = serverName
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// compileSchema turns a parameters map into a compiled JSON Schema. An
// empty schema compiles to "any object accepted" (no required fields).
func compileSchema(serverName, actionName string, params map[string]any) (*jsonschema.Schema, error) {
	schemaDoc := map[string]any{
		"type": "object",
	}
	if params != nil {
		schemaDoc["properties"] = params["properties"]
		if req, ok := params["required"]; ok {
			schemaDoc["required"] = req
		}
	}
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("catalog: marshal schema for %s.%s: %w", serverName, actionName, err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("catalog: decode schema for %s.%s: %w", serverName, actionName, err)
	}

	c := jsonschema.NewCompiler()
	resourceName := serverName + "." + actionName + ".schema.json"
	if err := c.AddResource(resourceName, decoded); err != nil {
		return nil, fmt.Errorf("catalog: add schema resource for %s.%s: %w", serverName, actionName, err)
	}
	schema, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("catalog: compile schema for %s.%s: %w", serverName, actionName, err)
	}
	return schema, nil
}

// validate enforces §4.8's load-time invariants: canonical names unique
// (guaranteed by map keys), every alias resolves to exactly one canonical
// name (enforced while building), and every action has a schema (always
// true here — compileSchema never returns a nil schema on success).
func (c *Catalog) validate() error {
	for serverName, entry := range c.servers {
		if len(entry.actions) == 0 {
			return fmt.Errorf("catalog: server %q defines no actions", serverName)
		}
	}
	return nil
}

// Resolve maps a server alias or canonical name to its canonical name.
func (c *Catalog) Resolve(serverAliasOrName string) (string, error) {
	if _, ok := c.servers[serverAliasOrName]; ok {
		return serverAliasOrName, nil
	}
	if canonical, ok := c.serverAlias[serverAliasOrName]; ok {
		return canonical, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownServer, serverAliasOrName)
}

// ResolveAction maps an action alias or canonical name to its canonical
// name within an already-resolved server.
func (c *Catalog) ResolveAction(serverName, actionAliasOrName string) (string, error) {
	entry, ok := c.servers[serverName]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownServer, serverName)
	}
	if actionAliasOrName == "" {
		if entry.defaultAction != "" {
			return entry.defaultAction, nil
		}
		return "", fmt.Errorf("%w: %s requires an action name", ErrUnknownAction, serverName)
	}
	if _, ok := entry.actions[actionAliasOrName]; ok {
		return actionAliasOrName, nil
	}
	if canonical, ok := entry.actionAlias[actionAliasOrName]; ok {
		return canonical, nil
	}
	return "", fmt.Errorf("%w: %s.%s", ErrUnknownAction, serverName, actionAliasOrName)
}

// Schema returns the compiled JSON Schema for an action's parameters.
// serverName and actionName must already be canonical (post-Resolve).
func (c *Catalog) Schema(serverName, actionName string) (*jsonschema.Schema, error) {
	entry, ok := c.servers[serverName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, serverName)
	}
	schema, ok := entry.schemas[actionName]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAction, serverName, actionName)
	}
	return schema, nil
}

// ActionDefinition returns the loaded definition for a canonical
// (server, action) pair.
func (c *Catalog) ActionDefinition(serverName, actionName string) (*ActionDefinition, error) {
	entry, ok := c.servers[serverName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, serverName)
	}
	def, ok := entry.actions[actionName]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAction, serverName, actionName)
	}
	return def, nil
}

// ValidatePayload validates a parsed invocation payload against the
// compiled schema for (serverName, actionName). payload must already be
// JSON-shaped (map[string]any, slice, or scalar) — callers pass the
// decoded JSON body, not the raw tag text.
func (c *Catalog) ValidatePayload(serverName, actionName string, payload any) error {
	schema, err := c.Schema(serverName, actionName)
	if err != nil {
		return err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("%w: %s.%s: %v", ErrPayloadInvalid, serverName, actionName, err)
	}
	return nil
}

// RenderForPrompt produces the tool-catalog section of the system prompt.
// When filterTaskType is non-empty, actions that declare TaskTypes exclude
// this task type are omitted; actions with no TaskTypes declared always
// render (§4.6 initial prompt assembly, part (b)).
func (c *Catalog) RenderForPrompt(filterTaskType task.Type) string {
	names := make([]string, 0, len(c.servers))
	for name := range c.servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		entry := c.servers[name]
		actionNames := make([]string, 0, len(entry.actions))
		for an := range entry.actions {
			actionNames = append(actionNames, an)
		}
		sort.Strings(actionNames)

		var rendered []string
		for _, an := range actionNames {
			def := entry.actions[an]
			if !appliesToTaskType(def.TaskTypes, filterTaskType) {
				continue
			}
			rendered = append(rendered, renderAction(def))
		}
		if len(rendered) == 0 {
			continue
		}

		fmt.Fprintf(&b, "### %s\n", name)
		if entry.instructions != "" {
			fmt.Fprintf(&b, "%s\n", entry.instructions)
		}
		for _, r := range rendered {
			b.WriteString(r)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func appliesToTaskType(declared []task.Type, want task.Type) bool {
	if len(declared) == 0 || want == "" {
		return true
	}
	for _, t := range declared {
		if t == want {
			return true
		}
	}
	return false
}

func renderAction(def *ActionDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- `%s.%s`: %s\n", def.ServerName, def.ActionName, def.Description)
	if len(def.ParameterSchema) > 0 {
		if raw, err := json.Marshal(def.ParameterSchema); err == nil {
			fmt.Fprintf(&b, "  parameters: %s\n", raw)
		}
	}
	return b.String()
}

// KnownParameters returns the set of parameter names declared in an
// action's schema "properties", for unknown-parameter warning detection
// (§4.2 edge cases: unknown parameters are a warning, not fatal).
func (c *Catalog) KnownParameters(serverName, actionName string) (map[string]bool, error) {
	def, err := c.ActionDefinition(serverName, actionName)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool)
	props, _ := def.ParameterSchema["properties"].(map[string]any)
	for name := range props {
		known[name] = true
	}
	return known, nil
}

// SensitiveResources returns the structured-masking rules declared by the
// catalog document (possibly empty — masking degrades to the regex sweep
// alone when a deployment declares none).
func (c *Catalog) SensitiveResources() []SensitiveResource {
	return c.sensitiveResources
}

// ServerNames returns the canonical server names, sorted.
func (c *Catalog) ServerNames() []string {
	names := make([]string, 0, len(c.servers))
	for name := range c.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
