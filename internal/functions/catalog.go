package functions

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"google.golang.org/genai"
)

// Param is one typed parameter in a function contract.
type Param struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Items       *Param   `json:"items,omitempty"`
}

// Function is a callable tool: description plus a typed parameter tree with
// required keys. The catalog doubles as the executor's allow-list.
type Function struct {
	Name        string
	Description string
	Params      map[string]Param
	Required    []string
}

// SchemaDoc renders the JSON schema document for the parameter object.
func (f Function) SchemaDoc() map[string]any {
	props := make(map[string]any, len(f.Params))
	for name, p := range f.Params {
		props[name] = paramDoc(p)
	}
	required := f.Required
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func paramDoc(p Param) map[string]any {
	doc := map[string]any{"type": p.Type}
	if p.Description != "" {
		doc["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		doc["enum"] = p.Enum
	}
	if p.Items != nil {
		doc["items"] = paramDoc(*p.Items)
	}
	return doc
}

// Catalog is the static table of callable tools keyed by name.
type Catalog struct {
	order     []string
	functions map[string]Function
	schemas   map[string]*jsonschema.Schema
}

// NewCatalog compiles the built-in function table. Compilation failures are
// programming errors and panic at startup.
func NewCatalog() *Catalog {
	c := &Catalog{
		functions: make(map[string]Function),
		schemas:   make(map[string]*jsonschema.Schema),
	}
	for _, f := range builtins {
		c.register(f)
	}
	return c
}

func (c *Catalog) register(f Function) {
	doc, err := json.Marshal(f.SchemaDoc())
	if err != nil {
		panic(fmt.Sprintf("catalog: marshal schema for %s: %v", f.Name, err))
	}
	schema := jsonschema.MustCompileString(f.Name+".schema.json", string(doc))
	c.order = append(c.order, f.Name)
	c.functions[f.Name] = f
	c.schemas[f.Name] = schema
}

// Get looks a function up by name.
func (c *Catalog) Get(name string) (Function, bool) {
	f, ok := c.functions[name]
	return f, ok
}

// Names lists the catalog in registration order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// ValidateArgs checks arguments against the compiled parameter schema.
func (c *Catalog) ValidateArgs(name string, args map[string]any) error {
	schema, ok := c.schemas[name]
	if !ok {
		return fmt.Errorf("unknown function %q", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	// Round-trip through JSON so argument values carry JSON types the
	// validator understands.
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

// RealtimeTools renders the catalog as streaming-session tool declarations.
func (c *Catalog) RealtimeTools() []map[string]any {
	out := make([]map[string]any, 0, len(c.order))
	for _, name := range c.order {
		f := c.functions[name]
		out = append(out, map[string]any{
			"type":        "function",
			"name":        f.Name,
			"description": f.Description,
			"parameters":  f.SchemaDoc(),
		})
	}
	return out
}

// GenaiDeclarations renders the catalog for the Gemini function-calling API.
func (c *Catalog) GenaiDeclarations() []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(c.order))
	for _, name := range c.order {
		f := c.functions[name]
		props := make(map[string]*genai.Schema, len(f.Params))
		for pname, p := range f.Params {
			props[pname] = genaiSchema(p)
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        f.Name,
			Description: f.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   f.Required,
			},
		})
	}
	return out
}

func genaiSchema(p Param) *genai.Schema {
	s := &genai.Schema{Description: p.Description}
	switch p.Type {
	case "string":
		s.Type = genai.TypeString
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
		if p.Items != nil {
			s.Items = genaiSchema(*p.Items)
		}
	default:
		s.Type = genai.TypeString
	}
	if len(p.Enum) > 0 {
		s.Enum = p.Enum
	}
	return s
}

// builtins is the full tool surface offered to both backends.
var builtins = []Function{
	{
		Name:        "launch_application",
		Description: "Launch a whitelisted desktop application such as chrome, vscode, notepad, calculator, explorer, edge or firefox.",
		Params: map[string]Param{
			"app_name": {Type: "string", Description: "Application name, e.g. 'chrome' or 'vscode'"},
		},
		Required: []string{"app_name"},
	},
	{
		Name:        "open_file",
		Description: "Open a file with its default application. The path must live under the user home, temp or working directory.",
		Params: map[string]Param{
			"path": {Type: "string", Description: "File path to open"},
		},
		Required: []string{"path"},
	},
	{
		Name:        "open_url",
		Description: "Open an http or https URL in the default browser.",
		Params: map[string]Param{
			"url": {Type: "string", Description: "Absolute http(s) URL"},
		},
		Required: []string{"url"},
	},
	{
		Name:        "run_command",
		Description: "Run a read-only shell query such as Get-Process or Get-ChildItem and return its output.",
		Params: map[string]Param{
			"command": {Type: "string", Description: "Command line to execute; only read-only query verbs are allowed"},
		},
		Required: []string{"command"},
	},
	{
		Name:        "get_system_info",
		Description: "Report host name, operating system, CPU count and agent uptime.",
		Params:      map[string]Param{},
	},
	{
		Name:        "get_datetime",
		Description: "Report the current date, time and weekday.",
		Params:      map[string]Param{},
	},
	{
		Name:        "list_files",
		Description: "List the entries of a directory inside the sandbox roots.",
		Params: map[string]Param{
			"path": {Type: "string", Description: "Directory to list"},
		},
		Required: []string{"path"},
	},
	{
		Name:        "create_file",
		Description: "Create a text file inside the sandbox roots.",
		Params: map[string]Param{
			"path":    {Type: "string", Description: "File path to create"},
			"content": {Type: "string", Description: "Initial file content"},
		},
		Required: []string{"path"},
	},
	{
		Name:        "read_file",
		Description: "Read a file inside the sandbox roots. Output is truncated to the first 1000 bytes.",
		Params: map[string]Param{
			"path": {Type: "string", Description: "File path to read"},
		},
		Required: []string{"path"},
	},
	{
		Name:        "delete_file",
		Description: "Delete a file inside the sandbox roots. Requires user confirmation.",
		Params: map[string]Param{
			"path": {Type: "string", Description: "File path to delete"},
		},
		Required: []string{"path"},
	},
	{
		Name:        "move_file",
		Description: "Move or rename a file inside the sandbox roots.",
		Params: map[string]Param{
			"source":      {Type: "string", Description: "Existing file path"},
			"destination": {Type: "string", Description: "New file path"},
		},
		Required: []string{"source", "destination"},
	},
	{
		Name:        "search_files",
		Description: "Search for files matching a glob pattern under a sandboxed directory.",
		Params: map[string]Param{
			"path":    {Type: "string", Description: "Directory to search"},
			"pattern": {Type: "string", Description: "Glob pattern matched against file names, e.g. '*.txt'"},
		},
		Required: []string{"path", "pattern"},
	},
	{
		Name:        "manage_window",
		Description: "Minimize all windows, or maximize, close or focus the first open application window.",
		Params: map[string]Param{
			"action": {Type: "string", Enum: []string{"minimize", "maximize", "close", "focus"}, Description: "Window action"},
			"title":  {Type: "string", Description: "Optional window title; accepted but not used to select the window"},
		},
		Required: []string{"action"},
	},
	{
		Name:        "set_volume",
		Description: "Set the system master volume. Values are clamped to 0-100.",
		Params: map[string]Param{
			"level": {Type: "integer", Description: "Target volume percentage"},
		},
		Required: []string{"level"},
	},
}
