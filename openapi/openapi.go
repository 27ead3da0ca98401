package openapi

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
	"gopkg.in/yaml.v3"
)

// OpenAPI accumulates an API document while routes are registered. Named
// struct types referenced by request or response examples become component
// schemas.
type OpenAPI struct {
	spec    *openapi3.T
	mu      sync.RWMutex
	schemas map[string]string // type key -> component name
	names   map[string]string // component name -> type key
}

func New(title, version string) *OpenAPI {
	return &OpenAPI{
		spec: &openapi3.T{
			OpenAPI: "3.0.3",
			Info: &openapi3.Info{
				Title:   title,
				Version: version,
			},
			Paths:      openapi3.NewPaths(),
			Components: &openapi3.Components{},
		},
		schemas: make(map[string]string),
		names:   make(map[string]string),
	}
}

func (o *OpenAPI) Description(desc string) *OpenAPI {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spec.Info.Description = desc
	return o
}

func (o *OpenAPI) Server(url, description string) *OpenAPI {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spec.Servers = append(o.spec.Servers, &openapi3.Server{
		URL:         url,
		Description: description,
	})
	return o
}

func (o *OpenAPI) Tag(name, description string) *OpenAPI {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spec.Tags = append(o.spec.Tags, &openapi3.Tag{
		Name:        name,
		Description: description,
	})
	return o
}

// AddSchema registers example's type under an explicit component name so later
// references use that name instead of the Go type name.
func (o *OpenAPI) AddSchema(name string, example any) *OpenAPI {
	o.mu.Lock()
	defer o.mu.Unlock()

	t := reflect.TypeOf(example)
	if t == nil {
		o.setComponent(name, &openapi3.Schema{Type: &openapi3.Types{"object"}})
		return o
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		o.setComponent(name, o.schemaFor(t, map[string]bool{}).Value)
		return o
	}

	key := typeKey(t)
	o.schemas[key] = name
	o.names[name] = key
	o.setComponent(name, o.structSchema(t, map[string]bool{}))
	return o
}

func (o *OpenAPI) Spec() *openapi3.T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.spec
}

func (o *OpenAPI) JSON() ([]byte, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return json.MarshalIndent(o.spec, "", "  ")
}

func (o *OpenAPI) YAML() ([]byte, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	intermediate, err := o.spec.MarshalYAML()
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(intermediate)
}

func (o *OpenAPI) JSONHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := o.JSON()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to render API document")
		}
		return c.JSONBlob(http.StatusOK, data)
	}
}

func (o *OpenAPI) YAMLHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := o.YAML()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to render API document")
		}
		return c.Blob(http.StatusOK, "application/yaml", data)
	}
}

// Document starts describing the operation served at method and path. Echo
// style ":param" segments become required path parameters.
func (o *OpenAPI) Document(method, path string) *RouteBuilder {
	rb := &RouteBuilder{
		openapi:   o,
		method:    strings.ToUpper(method),
		path:      path,
		operation: &openapi3.Operation{Responses: openapi3.NewResponses()},
	}
	rb.extractPathParams()
	return rb
}

func (o *OpenAPI) addOperation(method, path string, op *openapi3.Operation) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := echoPathToOpenAPI(path)
	item := o.spec.Paths.Find(p)
	if item == nil {
		item = &openapi3.PathItem{}
		o.spec.Paths.Set(p, item)
	}
	item.SetOperation(method, op)
}

func echoPathToOpenAPI(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if name, ok := strings.CutPrefix(part, ":"); ok {
			parts[i] = "{" + name + "}"
		}
	}
	return strings.Join(parts, "/")
}

func (o *OpenAPI) generateSchema(example any) *openapi3.SchemaRef {
	o.mu.Lock()
	defer o.mu.Unlock()

	if example == nil {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	}
	return o.schemaFor(reflect.TypeOf(example), map[string]bool{})
}

func (o *OpenAPI) setComponent(name string, schema *openapi3.Schema) {
	if o.spec.Components.Schemas == nil {
		o.spec.Components.Schemas = make(openapi3.Schemas)
	}
	o.spec.Components.Schemas[name] = &openapi3.SchemaRef{Value: schema}
}

func typeKey(t reflect.Type) string {
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

func (o *OpenAPI) schemaFor(t reflect.Type, visited map[string]bool) *openapi3.SchemaRef {
	if t.Kind() == reflect.Pointer {
		inner := o.schemaFor(t.Elem(), visited)
		if inner.Ref != "" {
			return &openapi3.SchemaRef{Value: &openapi3.Schema{
				AllOf:    openapi3.SchemaRefs{inner},
				Nullable: true,
			}}
		}
		inner.Value.Nullable = true
		return inner
	}

	switch t.Kind() {
	case reflect.String:
		return &openapi3.SchemaRef{Value: openapi3.NewStringSchema()}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &openapi3.SchemaRef{Value: openapi3.NewIntegerSchema()}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &openapi3.SchemaRef{Value: openapi3.NewIntegerSchema().WithMin(0)}
	case reflect.Float32, reflect.Float64:
		return &openapi3.SchemaRef{Value: openapi3.NewFloat64Schema()}
	case reflect.Bool:
		return &openapi3.SchemaRef{Value: openapi3.NewBoolSchema()}
	case reflect.Slice, reflect.Array:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: o.schemaFor(t.Elem(), visited),
		}}
	case reflect.Map:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:                 &openapi3.Types{"object"},
			AdditionalProperties: openapi3.AdditionalProperties{Schema: o.schemaFor(t.Elem(), visited)},
		}}
	case reflect.Struct:
		return o.structRef(t, visited)
	default:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	}
}

func (o *OpenAPI) structRef(t reflect.Type, visited map[string]bool) *openapi3.SchemaRef {
	if t.PkgPath() == "time" && t.Name() == "Time" {
		return &openapi3.SchemaRef{Value: openapi3.NewDateTimeSchema()}
	}
	if t.Name() == "" || t.PkgPath() == "" {
		return &openapi3.SchemaRef{Value: o.structSchema(t, visited)}
	}

	key := typeKey(t)
	if name, ok := o.schemas[key]; ok {
		return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
	}

	// Two packages may export the same type name.
	name := t.Name()
	for i := 2; o.names[name] != "" && o.names[name] != key; i++ {
		name = t.Name() + strconv.Itoa(i)
	}
	o.schemas[key] = name
	o.names[name] = key
	o.setComponent(name, o.structSchema(t, visited))

	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func (o *OpenAPI) structSchema(t reflect.Type, visited map[string]bool) *openapi3.Schema {
	key := typeKey(t)
	if visited[key] {
		return &openapi3.Schema{Type: &openapi3.Types{"object"}}
	}
	visited[key] = true
	defer delete(visited, key)

	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: make(openapi3.Schemas),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = field.Name
		}

		ref := o.schemaFor(field.Type, visited)
		doc, ex := field.Tag.Get("doc"), field.Tag.Get("example")
		if doc != "" || ex != "" {
			if ref.Ref != "" {
				ref = &openapi3.SchemaRef{Value: &openapi3.Schema{AllOf: openapi3.SchemaRefs{ref}}}
			}
			ref.Value.Description = doc
			if ex != "" {
				ref.Value.Example = ex
			}
		}
		schema.Properties[name] = ref

		if !strings.Contains(opts, "omitempty") {
			schema.Required = append(schema.Required, name)
		}
	}

	return schema
}
