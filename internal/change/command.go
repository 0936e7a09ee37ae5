package change

// CommandKind distinguishes how a codemod is located by the engine.
type CommandKind string

const (
	ExecuteCodemod      CommandKind = "executeCodemod"
	ExecuteLocalCodemod CommandKind = "executeLocalCodemod"
	ExecutePiranhaRule  CommandKind = "executePiranhaRule"
)

// Argument is a named codemod argument passed through to the engine.
type Argument struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Command describes which codemod to run.
//
// CodemodHash is set for registry codemods and optionally for local ones.
// SourcePath points at a local codemod file or a piranha configuration
// directory. Language is only used by piranha rules.
type Command struct {
	Kind        CommandKind `json:"kind"`
	Name        string      `json:"name"`
	CodemodHash string      `json:"codemodHash,omitempty"`
	SourcePath  string      `json:"sourcePath,omitempty"`
	Language    string      `json:"language,omitempty"`
	Arguments   []Argument  `json:"arguments,omitempty"`
}

// Registry reports whether the command runs a codemod from the registry.
// Only registry runs may wait in the execution queue.
func (c Command) Registry() bool {
	return c.Kind == ExecuteCodemod
}
