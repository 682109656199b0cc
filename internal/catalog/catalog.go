// Package catalog maps model identifiers to GGUF files. It merges a
// built-in table of known models — the "phonebook" with layer counts and
// trained context lengths — with whatever *.gguf files sit in the models
// directory.
package catalog

// Entry describes a downloadable, well-known model.
type Entry struct {
	Name                 string   // Friendly name (e.g. "llama3")
	Description          string   // What the model is for
	Parameters           string   // Parameter count (e.g. "8B")
	Quantization         string   // Quantization level (e.g. "Q4_K_M")
	SizeBytes            int64    // Approximate download size
	HFRepo               string   // HuggingFace repo
	HFFile               string   // GGUF filename inside the repo
	Tags                 []string // Searchable aliases
	LayerCount           int      // Transformer layer count
	TrainedContextLength int      // Context window the model was trained with
	MaxContextLength     int      // Hard context ceiling, 0 = same as trained
}

// Builtin is the built-in list of downloadable models. Small quantized
// builds suitable for local inference; anything else can be pulled by full
// HuggingFace path.
var Builtin = []Entry{
	{
		Name:                 "tinyllama",
		Description:          "TinyLlama 1.1B — fast, small, good for testing",
		Parameters:           "1.1B",
		Quantization:         "Q4_K_M",
		SizeBytes:            669_000_000,
		HFRepo:               "TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF",
		HFFile:               "tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf",
		Tags:                 []string{"tinyllama", "tinyllama:latest", "tinyllama:1.1b"},
		LayerCount:           22,
		TrainedContextLength: 2048,
	},
	{
		Name:                 "phi3",
		Description:          "Microsoft Phi-3 Mini 3.8B — strong for its size",
		Parameters:           "3.8B",
		Quantization:         "Q4_K_M",
		SizeBytes:            2_400_000_000,
		HFRepo:               "microsoft/Phi-3-mini-4k-instruct-gguf",
		HFFile:               "Phi-3-mini-4k-instruct-q4.gguf",
		Tags:                 []string{"phi3", "phi3:latest", "phi3:mini", "phi3:3.8b"},
		LayerCount:           32,
		TrainedContextLength: 4096,
	},
	{
		Name:                 "qwen2.5",
		Description:          "Qwen 2.5 1.5B — fast multilingual model",
		Parameters:           "1.5B",
		Quantization:         "Q4_K_M",
		SizeBytes:            986_000_000,
		HFRepo:               "Qwen/Qwen2.5-1.5B-Instruct-GGUF",
		HFFile:               "qwen2.5-1.5b-instruct-q4_k_m.gguf",
		Tags:                 []string{"qwen2.5", "qwen2.5:latest", "qwen2.5:1.5b"},
		LayerCount:           28,
		TrainedContextLength: 32768,
	},
	{
		Name:                 "llama3",
		Description:          "Meta Llama 3.2 1B Instruct — compact and capable",
		Parameters:           "1B",
		Quantization:         "Q4_K_M",
		SizeBytes:            750_000_000,
		HFRepo:               "hugging-quants/Llama-3.2-1B-Instruct-Q4_K_M-GGUF",
		HFFile:               "llama-3.2-1b-instruct-q4_k_m.gguf",
		Tags:                 []string{"llama3", "llama3:latest", "llama3:1b", "llama3.2", "llama3.2:1b"},
		LayerCount:           16,
		TrainedContextLength: 131072,
		MaxContextLength:     131072,
	},
	{
		Name:                 "llama3:8b",
		Description:          "Meta Llama 3.1 8B Instruct — full-size, best quality",
		Parameters:           "8B",
		Quantization:         "Q4_K_M",
		SizeBytes:            4_900_000_000,
		HFRepo:               "bartowski/Meta-Llama-3.1-8B-Instruct-GGUF",
		HFFile:               "Meta-Llama-3.1-8B-Instruct-Q4_K_M.gguf",
		Tags:                 []string{"llama3:8b", "llama3.1:8b"},
		LayerCount:           32,
		TrainedContextLength: 131072,
		MaxContextLength:     131072,
	},
	{
		Name:                 "gemma2",
		Description:          "Google Gemma 2 2B — efficient and strong reasoning",
		Parameters:           "2B",
		Quantization:         "Q4_K_M",
		SizeBytes:            1_600_000_000,
		HFRepo:               "bartowski/gemma-2-2b-it-GGUF",
		HFFile:               "gemma-2-2b-it-Q4_K_M.gguf",
		Tags:                 []string{"gemma2", "gemma2:latest", "gemma2:2b"},
		LayerCount:           26,
		TrainedContextLength: 8192,
	},
	{
		Name:                 "smollm2",
		Description:          "SmolLM2 360M — ultra-tiny, instant responses",
		Parameters:           "360M",
		Quantization:         "Q8_0",
		SizeBytes:            386_000_000,
		HFRepo:               "HuggingFaceTB/SmolLM2-360M-Instruct-GGUF",
		HFFile:               "smollm2-360m-instruct-q8_0.gguf",
		Tags:                 []string{"smollm2", "smollm2:latest", "smollm2:360m"},
		LayerCount:           32,
		TrainedContextLength: 8192,
	},
	{
		Name:                 "mistral",
		Description:          "Mistral 7B Instruct v0.3 — strong general-purpose model",
		Parameters:           "7B",
		Quantization:         "Q4_K_M",
		SizeBytes:            4_370_000_000,
		HFRepo:               "bartowski/Mistral-7B-Instruct-v0.3-GGUF",
		HFFile:               "Mistral-7B-Instruct-v0.3-Q4_K_M.gguf",
		Tags:                 []string{"mistral", "mistral:latest", "mistral:7b"},
		LayerCount:           32,
		TrainedContextLength: 32768,
	},
}

// Lookup finds a built-in entry by name or tag. Returns nil if not found.
func Lookup(name string) *Entry {
	for i := range Builtin {
		for _, tag := range Builtin[i].Tags {
			if tag == name {
				return &Builtin[i]
			}
		}
	}
	return nil
}

// byFile finds a built-in entry by its GGUF filename.
func byFile(filename string) *Entry {
	for i := range Builtin {
		if Builtin[i].HFFile == filename {
			return &Builtin[i]
		}
	}
	return nil
}

// DownloadURL returns the HuggingFace direct download URL for an entry.
func (e *Entry) DownloadURL() string {
	return "https://huggingface.co/" + e.HFRepo + "/resolve/main/" + e.HFFile
}
