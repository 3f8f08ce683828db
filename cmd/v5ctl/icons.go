package main

import (
	"fmt"
	"sort"
	"strings"
)

// programIcons maps CLI icon names to the numbers of the brain's bundled
// icon files. The brain resolves unknown numbers to the question mark, which
// is why it doubles as the default.
var programIcons = map[string]int{
	"vex-coding-studio":  0,
	"cool-x":             1,
	"question-mark":      2,
	"pizza":              3,
	"clawbot":            10,
	"robot":              11,
	"power-button":       12,
	"planets":            13,
	"alien":              27,
	"alien-in-ufo":       29,
	"cup-in-field":       50,
	"cup-and-ball":       51,
	"matlab":             901,
	"pros":               902,
	"robot-mesh":         903,
	"robot-mesh-cpp":     911,
	"robot-mesh-blockly": 912,
	"robot-mesh-flowol":  913,
	"robot-mesh-js":      914,
	"robot-mesh-py":      915,
	"code-file":          920,
	"vexcode-brackets":   921,
	"vexcode-blocks":     922,
	"vexcode-python":     925,
	"vexcode-cpp":        926,
}

// iconFile resolves an icon name to its on-brain file name.
func iconFile(name string) (string, error) {
	n, ok := programIcons[name]
	if !ok {
		return "", fmt.Errorf("unknown icon %q (one of: %s)", name, iconNames())
	}
	return fmt.Sprintf("USER%03dx.bmp", n), nil
}

func iconNames() string {
	names := make([]string, 0, len(programIcons))
	for name := range programIcons {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
