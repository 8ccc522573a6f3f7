package ollama

import "strings"

// ParseListing reads `list` output: a header line, then one row per model
// whose first whitespace delimited token is the model name
func ParseListing(stdout string) []string {
	lines := strings.Split(stdout, "\n")
	if len(lines) <= 1 {
		return []string{}
	}

	models := make([]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		models = append(models, fields[0])
	}
	return models
}

// Contains reports whether model is in the listing
func Contains(models []string, model string) bool {
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}
