package openapi

import (
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

type RouteBuilder struct {
	openapi   *OpenAPI
	method    string
	path      string
	operation *openapi3.Operation
}

func (rb *RouteBuilder) extractPathParams() {
	for _, part := range strings.Split(rb.path, "/") {
		if name, ok := strings.CutPrefix(part, ":"); ok && name != "" {
			rb.findOrCreateParam(name, openapi3.ParameterInPath).Required = true
		}
	}
}

func (rb *RouteBuilder) Summary(summary string) *RouteBuilder {
	rb.operation.Summary = summary
	return rb
}

func (rb *RouteBuilder) Description(description string) *RouteBuilder {
	rb.operation.Description = description
	return rb
}

func (rb *RouteBuilder) OperationID(id string) *RouteBuilder {
	rb.operation.OperationID = id
	return rb
}

func (rb *RouteBuilder) Tags(tags ...string) *RouteBuilder {
	rb.operation.Tags = append(rb.operation.Tags, tags...)
	return rb
}

func (rb *RouteBuilder) PathParam(name, description string) *ParamBuilder {
	param := rb.findOrCreateParam(name, openapi3.ParameterInPath)
	param.Description = description
	param.Required = true
	return &ParamBuilder{route: rb, param: param}
}

func (rb *RouteBuilder) HeaderParam(name, description string) *ParamBuilder {
	param := rb.findOrCreateParam(name, openapi3.ParameterInHeader)
	param.Description = description
	return &ParamBuilder{route: rb, param: param}
}

func (rb *RouteBuilder) findOrCreateParam(name, in string) *openapi3.Parameter {
	for _, p := range rb.operation.Parameters {
		if p.Value != nil && p.Value.Name == name && p.Value.In == in {
			return p.Value
		}
	}

	param := &openapi3.Parameter{
		Name:   name,
		In:     in,
		Schema: &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
	}
	rb.operation.Parameters = append(rb.operation.Parameters, &openapi3.ParameterRef{Value: param})
	return param
}

func (rb *RouteBuilder) Body(example any, description string) *RouteBuilder {
	rb.operation.RequestBody = &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(rb.openapi.generateSchema(example)),
		},
	}
	return rb
}

// Response documents statusCode. A nil example documents a response without a
// body.
func (rb *RouteBuilder) Response(statusCode int, example any, description string) *RouteBuilder {
	resp := &openapi3.Response{Description: &description}
	if example != nil {
		resp.Content = openapi3.NewContentWithJSONSchemaRef(rb.openapi.generateSchema(example))
	}
	rb.operation.Responses.Set(strconv.Itoa(statusCode), &openapi3.ResponseRef{Value: resp})
	return rb
}

func (rb *RouteBuilder) ResponseWithHeaders(statusCode int, example any, description string, headers map[string]string) *RouteBuilder {
	rb.Response(statusCode, example, description)

	resp := rb.operation.Responses.Value(strconv.Itoa(statusCode)).Value
	resp.Headers = make(openapi3.Headers, len(headers))
	for name, desc := range headers {
		resp.Headers[name] = &openapi3.HeaderRef{
			Value: &openapi3.Header{
				Parameter: openapi3.Parameter{
					Description: desc,
					Schema:      &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
				},
			},
		}
	}
	return rb
}

func (rb *RouteBuilder) Build() {
	rb.openapi.addOperation(rb.method, rb.path, rb.operation)
}

type ParamBuilder struct {
	route *RouteBuilder
	param *openapi3.Parameter
}

func (pb *ParamBuilder) Required() *ParamBuilder {
	pb.param.Required = true
	return pb
}

func (pb *ParamBuilder) Example(value any) *ParamBuilder {
	pb.param.Example = value
	return pb
}

func (pb *ParamBuilder) MaxLength(length uint64) *ParamBuilder {
	pb.param.Schema.Value.MaxLength = &length
	return pb
}

func (pb *ParamBuilder) Pattern(pattern string) *ParamBuilder {
	pb.param.Schema.Value.Pattern = pattern
	return pb
}

func (pb *ParamBuilder) Done() *RouteBuilder {
	return pb.route
}

func (pb *ParamBuilder) Body(example any, description string) *RouteBuilder {
	return pb.route.Body(example, description)
}

func (pb *ParamBuilder) Response(statusCode int, example any, description string) *RouteBuilder {
	return pb.route.Response(statusCode, example, description)
}

func (pb *ParamBuilder) Build() {
	pb.route.Build()
}
