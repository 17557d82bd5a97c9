package toolchain

import (
	"path/filepath"
	"sort"
	"strings"
)

// OpenVINO locates an installed OpenVINO toolkit
type OpenVINO struct {
	Dir string
	// PythonVersion names the python directory under <Dir>/python, e.g. python3.8
	PythonVersion string
}

// pathListVars are merged with the caller's value instead of replaced
var pathListVars = map[string]bool{
	"PYTHONPATH":      true,
	"LD_LIBRARY_PATH": true,
}

// Vars returns the variables compile_tool needs to find its plugins
func (o OpenVINO) Vars() map[string]string {
	cmake := filepath.Join(o.Dir, "runtime", "cmake")
	hddl := filepath.Join(o.Dir, "runtime", "3rdparty", "hddl")

	return map[string]string{
		"InferenceEngine_DIR": cmake,
		"OpenVINO_DIR":        cmake,
		"ngraph_DIR":          cmake,
		"INTEL_OPENVINO_DIR":  o.Dir,
		"HDDL_INSTALL_DIR":    hddl,
		"PYTHONPATH": strings.Join([]string{
			filepath.Join(o.Dir, "python", o.PythonVersion),
			filepath.Join(o.Dir, "python", "python3"),
		}, ":"),
		"LD_LIBRARY_PATH": strings.Join([]string{
			filepath.Join(o.Dir, "tools", "compile_tool"),
			filepath.Join(hddl, "lib"),
			filepath.Join(o.Dir, "runtime", "lib", "intel64"),
		}, ":"),
	}
}

// Environ augments base (KEY=VALUE pairs, as from os.Environ) with Vars.
// Toolchain entries take precedence; search paths keep the caller's
// entries after the toolchain's.
func (o OpenVINO) Environ(base []string) []string {
	vars := o.Vars()

	env := make([]string, 0, len(base)+len(vars))
	for _, kv := range base {
		key, value, _ := strings.Cut(kv, "=")
		tv, ok := vars[key]
		if !ok {
			env = append(env, kv)
			continue
		}
		if pathListVars[key] && value != "" {
			vars[key] = tv + ":" + value
		}
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}
