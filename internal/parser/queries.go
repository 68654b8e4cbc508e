package parser

// Queries holds the first-pass definition query of each grammar. Every
// pattern captures the definition name as @name and the definition node
// under its Kind. Patterns anchor on the same node the full parser uses for
// a definition's line so both passes agree on identity.
var Queries = map[string]string{
	"go": `
		(function_declaration name: (identifier) @name) @function
		(method_declaration name: (field_identifier) @name) @function
		(type_spec name: (type_identifier) @name type: (struct_type)) @struct
		(type_spec name: (type_identifier) @name type: (interface_type)) @interface
	`,
	"python": `
		(function_definition name: (identifier) @name) @function
		(class_definition name: (identifier) @name) @class
	`,
	"javascript": `
		(function_declaration name: (identifier) @name) @function
		(generator_function_declaration name: (identifier) @name) @function
		(class_declaration name: (identifier) @name) @class
		(method_definition name: (property_identifier) @name) @function
		(variable_declarator name: (identifier) @name value: [(arrow_function) (function_expression)]) @function
	`,
	"typescript": `
		(function_declaration name: (identifier) @name) @function
		(generator_function_declaration name: (identifier) @name) @function
		(class_declaration name: (type_identifier) @name) @class
		(abstract_class_declaration name: (type_identifier) @name) @class
		(method_definition name: (property_identifier) @name) @function
		(variable_declarator name: (identifier) @name value: [(arrow_function) (function_expression)]) @function
		(interface_declaration name: (type_identifier) @name) @interface
		(enum_declaration name: (identifier) @name) @enum
		(type_alias_declaration name: (type_identifier) @name) @typedef
	`,
	"c": `
		(function_definition declarator: (function_declarator declarator: (identifier) @name)) @function
		(function_definition declarator: (pointer_declarator declarator: (function_declarator declarator: (identifier) @name))) @function
		(struct_specifier name: (type_identifier) @name body: (field_declaration_list)) @struct
		(union_specifier name: (type_identifier) @name body: (field_declaration_list)) @union
		(enum_specifier name: (type_identifier) @name body: (enumerator_list)) @enum
		(type_definition declarator: (type_identifier) @name) @typedef
		(preproc_def name: (identifier) @name) @macro
		(preproc_function_def name: (identifier) @name) @macro
	`,	"cpp": `
		(function_definition declarator: (function_declarator declarator: (identifier) @name)) @function
		(function_definition declarator: (function_declarator declarator: (field_identifier) @name)) @function
		(function_definition declarator: (function_declarator declarator: (qualified_identifier name: (identifier) @name))) @function
		(function_definition declarator: (pointer_declarator declarator: (function_declarator declarator: (identifier) @name))) @function
		(function_definition declarator: (reference_declarator (function_declarator declarator: (identifier) @name))) @function
		(class_specifier name: (type_identifier) @name body: (field_declaration_list)) @class
		(struct_specifier name: (type_identifier) @name body: (field_declaration_list)) @struct
		(union_specifier name: (type_identifier) @name body: (field_declaration_list)) @union
		(enum_specifier name: (type_identifier) @name body: (enumerator_list)) @enum
		(alias_declaration name: (type_identifier) @name) @typedef
		(preproc_def name: (identifier) @name) @macro
		(preproc_function_def name: (identifier) @name) @macro
	`,
	"java": `
		(method_declaration name: (identifier) @name) @function
		(constructor_declaration name: (identifier) @name) @function
		(class_declaration name: (identifier) @name) @class
		(record_declaration name: (identifier) @name) @class
		(interface_declaration name: (identifier) @name) @interface
		(enum_declaration name: (identifier) @name) @enum
	`,
}
