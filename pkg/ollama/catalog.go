package ollama

import "sort"

type ModelStatus string

const (
	StatusNotDownloaded ModelStatus = "not_downloaded"
	StatusDownloading   ModelStatus = "downloading"
	StatusReady         ModelStatus = "ready"
	StatusError         ModelStatus = "error"
)

// CatalogEntry is a model the application offers to install
type CatalogEntry struct {
	Name         string      `json:"name"`
	DisplayName  string      `json:"display_name"`
	SizeEstimate string      `json:"size_estimate"`
	Description  string      `json:"description"`
	Category     string      `json:"category"`
	Status       ModelStatus `json:"status"`
	Progress     float64     `json:"progress,omitempty"`
	Error        string      `json:"error,omitempty"`
}

var curatedModels = []CatalogEntry{
	{
		Name:         "llama3:8b",
		DisplayName:  "Llama 3 8B",
		SizeEstimate: "4.7 GB",
		Description:  "Meta's general purpose model, a solid default for agents",
		Category:     "chat",
	},
	{
		Name:         "llama3.2:3b",
		DisplayName:  "Llama 3.2 3B",
		SizeEstimate: "2.0 GB",
		Description:  "Compact Llama model for quick tasks",
		Category:     "chat",
	},
	{
		Name:         "mistral:7b",
		DisplayName:  "Mistral 7B",
		SizeEstimate: "4.1 GB",
		Description:  "High performance open model from Mistral AI",
		Category:     "chat",
	},
	{
		Name:         "gemma2:2b",
		DisplayName:  "Gemma 2 2B",
		SizeEstimate: "1.6 GB",
		Description:  "Google's efficient small language model",
		Category:     "chat",
	},
	{
		Name:         "phi3:mini",
		DisplayName:  "Phi-3 Mini",
		SizeEstimate: "2.3 GB",
		Description:  "Microsoft's small but capable language model",
		Category:     "chat",
	},
	{
		Name:         "codellama:7b",
		DisplayName:  "Code Llama 7B",
		SizeEstimate: "3.8 GB",
		Description:  "Code specialized Llama variant",
		Category:     "code",
	},
	{
		Name:         "qwen2.5-coder:7b",
		DisplayName:  "Qwen 2.5 Coder 7B",
		SizeEstimate: "4.7 GB",
		Description:  "Model for code generation and analysis",
		Category:     "code",
	},
}

// Catalog returns a copy of the curated models, all not_downloaded
func Catalog() []CatalogEntry {
	out := make([]CatalogEntry, len(curatedModels))
	copy(out, curatedModels)
	for i := range out {
		out[i].Status = StatusNotDownloaded
	}
	return out
}

// CatalogWithStatus marks installed models ready and applies in flight or
// failed download states on top. Installed models missing from the curated
// list are appended.
func CatalogWithStatus(installed []string, downloads map[string]CatalogEntry) []CatalogEntry {
	entries := Catalog()
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		index[e.Name] = i
	}

	for _, name := range installed {
		if i, ok := index[name]; ok {
			entries[i].Status = StatusReady
			continue
		}
		index[name] = len(entries)
		entries = append(entries, CatalogEntry{
			Name:        name,
			DisplayName: name,
			Category:    "installed",
			Status:      StatusReady,
		})
	}

	names := make([]string, 0, len(downloads))
	for name := range downloads {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d := downloads[name]
		i, ok := index[name]
		if !ok {
			index[name] = len(entries)
			entries = append(entries, CatalogEntry{Name: name, DisplayName: name, Category: "custom"})
			i = len(entries) - 1
		}
		if entries[i].Status == StatusReady && d.Status != StatusDownloading {
			continue
		}
		entries[i].Status = d.Status
		entries[i].Progress = d.Progress
		entries[i].Error = d.Error
	}

	return entries
}
