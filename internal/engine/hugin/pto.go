package hugin

import (
	"os"
	"strings"
)

// Hugin projection numbers for the p line "f" parameter.
var projections = map[string]string{
	"planar":        "0",
	"rectilinear":   "0",
	"cylindrical":   "1",
	"spherical":     "2",
	"fisheye":       "3",
	"stereographic": "5",
	"mercator":      "6",
}

// setProjection rewrites the projection of the panorama (p) line in a PTO file.
func setProjection(ptoFile, projection string) error {
	content, err := os.ReadFile(ptoFile)
	if err != nil {
		return err
	}

	projNum, ok := projections[projection]
	if !ok {
		projNum = projections["cylindrical"]
	}

	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "p ") {
			continue
		}
		parts := strings.Fields(line)
		for j, part := range parts {
			if strings.HasPrefix(part, "f") {
				parts[j] = "f" + projNum
				break
			}
		}
		lines[i] = strings.Join(parts, " ")
		break
	}

	return os.WriteFile(ptoFile, []byte(strings.Join(lines, "\n")), 0o644)
}

// ptoStats counts image (i) and control point (c) lines of a PTO file.
type ptoStats struct {
	Images        int
	ControlPoints int
}

func readStats(ptoFile string) ptoStats {
	content, err := os.ReadFile(ptoFile)
	if err != nil {
		return ptoStats{}
	}
	var st ptoStats
	for _, line := range strings.Split(string(content), "\n") {
		switch {
		case strings.HasPrefix(line, "i "):
			st.Images++
		case strings.HasPrefix(line, "c "):
			st.ControlPoints++
		}
	}
	return st
}
