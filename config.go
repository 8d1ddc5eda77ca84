package branchscript

import "fmt"

// Config is a stringly-keyed typed settings bag threaded through the
// compiler and VM. It exists so the compiler and VM entry points don't
// grow long positional parameter lists as new knobs accrue.
type Config map[string]*cfgVal

// NewConfig returns a Config primed with every default the compiler and
// VM consult. "compiler.line_id_hash_bits" is recorded here but not read:
// line ids always carry a 16-bit hash.
func NewConfig() *Config {
	c := make(Config)
	c.SetBool("compiler.optimize", true)
	c.SetInt("compiler.line_id_hash_bits", 16)
	c.SetInt("vm.max_call_depth", 256)
	c.SetInt("vm.max_interpolation_depth", 16)
	return &c
}

type cfgValType int

const (
	cfgUndefined cfgValType = iota
	cfgBool
	cfgInt
	cfgString
)

func (t cfgValType) String() string {
	switch t {
	case cfgBool:
		return "bool"
	case cfgInt:
		return "int"
	case cfgString:
		return "string"
	default:
		return "undefined"
	}
}

type cfgVal struct {
	typ      cfgValType
	asBool   bool
	asInt    int
	asString string
}

func (c *Config) SetBool(path string, v bool) { (*c)[path] = &cfgVal{typ: cfgBool, asBool: v} }
func (c *Config) SetInt(path string, v int)    { (*c)[path] = &cfgVal{typ: cfgInt, asInt: v} }
func (c *Config) SetString(path string, v string) {
	(*c)[path] = &cfgVal{typ: cfgString, asString: v}
}

func (c *Config) GetBool(path string) bool {
	if v, ok := (*c)[path]; ok {
		return v.asBool
	}
	panic(fmt.Sprintf("branchscript: bool setting %q does not exist", path))
}

func (c *Config) GetInt(path string) int {
	if v, ok := (*c)[path]; ok {
		return v.asInt
	}
	panic(fmt.Sprintf("branchscript: int setting %q does not exist", path))
}

func (c *Config) GetString(path string) string {
	if v, ok := (*c)[path]; ok {
		return v.asString
	}
	panic(fmt.Sprintf("branchscript: string setting %q does not exist", path))
}
