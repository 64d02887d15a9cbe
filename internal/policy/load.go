package policy

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// Load reads and compiles a policy document. path may be a single .cue
// file or a directory of .cue files building one instance.
func Load(path string) (*Policy, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("policy not found: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("accessing policy %s: %w", path, err)
	}

	ctx := cuecontext.New()

	var value cue.Value
	if info.IsDir() {
		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return nil, fmt.Errorf("policy %s: no CUE instances loaded", path)
		}
		inst := instances[0]
		if inst.Err != nil {
			return nil, formatCUEError(inst.Err)
		}
		value = ctx.BuildInstance(inst)
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading policy %s: %w", path, err)
		}
		value = ctx.CompileBytes(data, cue.Filename(path))
	}
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	return Compile(value)
}
