package api

import "github.com/xeipuuv/gojsonschema"

// 请求体结构校验，长度与去重等语义规则由 todo.Service 负责。
const (
	todoCreateSchema = `{
  "type": "object",
  "required": ["text"],
  "properties": {
    "text": {"type": "string"},
    "completed": {"type": "boolean"},
    "category": {"type": ["string", "null"]},
    "tags": {"type": ["array", "null"], "items": {"type": "string"}},
    "priority": {"type": ["string", "null"], "enum": ["high", "medium", "low", null]},
    "due_date": {"type": ["number", "string", "null"]}
  }
}`

	todoPatchSchema = `{
  "type": "object",
  "properties": {
    "text": {"type": "string"},
    "completed": {"type": "boolean"},
    "category": {"type": ["string", "null"]},
    "tags": {"type": ["array", "null"], "items": {"type": "string"}},
    "priority": {"type": ["string", "null"], "enum": ["high", "medium", "low", null]},
    "due_date": {"type": ["number", "string", "null"]}
  }
}`

	categoryCreateSchema = `{
  "type": "object",
  "required": ["name", "color"],
  "properties": {
    "name": {"type": "string"},
    "color": {"type": "string", "pattern": "^\\s*#[0-9A-Fa-f]{6}\\s*$"},
    "icon": {"type": ["string", "null"]}
  }
}`

	categoryPatchSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "color": {"type": "string", "pattern": "^\\s*#[0-9A-Fa-f]{6}\\s*$"},
    "icon": {"type": ["string", "null"]}
  }
}`

	tokenRequestSchema = `{
  "type": "object",
  "properties": {
    "grant_type": {"type": "string", "enum": ["password", "refresh_token"]},
    "username": {"type": "string"},
    "password": {"type": "string"},
    "refresh_token": {"type": "string"},
    "scope": {"type": "array", "items": {"type": "string"}}
  }
}`
)

var (
	todoCreate     = mustSchema(todoCreateSchema)
	todoPatch      = mustSchema(todoPatchSchema)
	categoryCreate = mustSchema(categoryCreateSchema)
	categoryPatch  = mustSchema(categoryPatchSchema)
	tokenRequest   = mustSchema(tokenRequestSchema)
)

func mustSchema(source string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic("编译请求体 schema 失败: " + err.Error())
	}
	return schema
}
