package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const errorResponseRef = "#/components/schemas/ErrorResponse"

// routes served by services/chat/internal/server; the document must describe each one.
var routes = []string{
	"GET /healthz",
	"GET /connect",
	"GET /rooms",
	"POST /rooms",
	"POST /rooms/{roomId}/join",
	"POST /rooms/{roomId}/leave",
	"GET /rooms/{roomId}/messages",
	"POST /rooms/{roomId}/messages",
	"POST /rooms/{roomId}/exports",
	"GET /exports/{jobId}",
	"POST /poke",
	"POST /auth/register",
	"POST /auth/login",
	"POST /auth/logout",
}

var methods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"patch": true, "head": true, "options": true, "trace": true,
}

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas   map[string]schema   `yaml:"schemas"`
		Responses map[string]response `yaml:"responses"`
	} `yaml:"components"`
}

type operation struct {
	Responses map[string]response `yaml:"responses"`
}

type response struct {
	Ref     string               `yaml:"$ref"`
	Content map[string]mediaType `yaml:"content"`
}

type mediaType struct {
	Schema schema `yaml:"schema"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	doc, err := loadDoc(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if err := check(doc); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

func check(doc openAPIDoc) error {
	errResp, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errResp); err != nil {
		return err
	}
	ops, err := operations(doc)
	if err != nil {
		return err
	}
	var problems []string
	for _, route := range routes {
		if _, ok := ops[route]; !ok {
			problems = append(problems, fmt.Sprintf("%s is not documented", route))
		}
	}
	keys := make([]string, 0, len(ops))
	for key := range ops {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		op := ops[key]
		if len(op.Responses) == 0 {
			problems = append(problems, fmt.Sprintf("%s has no responses", key))
			continue
		}
		for code, resp := range op.Responses {
			status, err := strconv.Atoi(code)
			if err != nil || status < 400 {
				continue
			}
			if err := checkErrorBody(doc, resp); err != nil {
				problems = append(problems, fmt.Sprintf("%s %s: %v", key, code, err))
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return errors.New(strings.Join(problems, "\n"))
	}
	return nil
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// operations indexes the document by "METHOD /path".
func operations(doc openAPIDoc) (map[string]operation, error) {
	out := make(map[string]operation)
	for path, item := range doc.Paths {
		for method, node := range item {
			if !methods[method] {
				continue
			}
			var op operation
			if err := node.Decode(&op); err != nil {
				return nil, fmt.Errorf("decode %s %s: %w", strings.ToUpper(method), path, err)
			}
			out[strings.ToUpper(method)+" "+path] = op
		}
	}
	return out, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	if !makeSet(s.Required)["error"] {
		return errors.New(`ErrorResponse.required must include "error"`)
	}
	errorProp, ok := s.Properties["error"]
	if !ok || errorProp.Type != "string" {
		return errors.New("ErrorResponse.error must be string")
	}
	return nil
}

// checkErrorBody requires an error response to carry an ErrorResponse JSON body,
// following one level of components/responses indirection.
func checkErrorBody(doc openAPIDoc, resp response) error {
	if ref := strings.TrimSpace(resp.Ref); ref != "" {
		name, ok := strings.CutPrefix(ref, "#/components/responses/")
		if !ok {
			return fmt.Errorf("unsupported response ref %q", ref)
		}
		shared, ok := doc.Components.Responses[name]
		if !ok {
			return fmt.Errorf("response %q missing", name)
		}
		resp = shared
	}
	media, ok := resp.Content["application/json"]
	if !ok {
		return errors.New("missing application/json body")
	}
	if strings.TrimSpace(media.Schema.Ref) != errorResponseRef {
		return errors.New("body must reference ErrorResponse")
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
