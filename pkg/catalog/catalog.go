// Package catalog lists the downloadable vision model variants. Each variant
// pairs a main GGUF weights file with the multimodal projector the engine
// needs to accept image input.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Key identifies a variant.
type Key string

const (
	// Low is the 4B variant.
	Low Key = "low"
	// Medium is the 8B variant.
	Medium Key = "medium"
	// High is the 30B mixture-of-experts variant.
	High Key = "high"
)

// ErrUnknownVariant indicates a key that is not in the catalog.
var ErrUnknownVariant = errors.New("unknown variant")

// ArtifactSpec describes one downloadable file.
type ArtifactSpec struct {
	// Filename is the name the file is stored under in the models directory.
	Filename string
	// URL is the download source.
	URL string
	// SizeMB is the estimated size, used for progress until the server
	// reports an authoritative length.
	SizeMB int64
}

// Variant is one quality/size tradeoff.
type Variant struct {
	Key         Key
	Label       string
	Description string
	Main        ArtifactSpec
	Projector   ArtifactSpec
}

// Artifacts returns the variant's files in download order.
func (v Variant) Artifacts() []ArtifactSpec {
	return []ArtifactSpec{v.Main, v.Projector}
}

// Paths returns where the variant's main and projector files live under
// modelsDir.
func (v Variant) Paths(modelsDir string) (string, string) {
	return filepath.Join(modelsDir, v.Main.Filename), filepath.Join(modelsDir, v.Projector.Filename)
}

const huggingFace = "https://huggingface.co/Qwen"

var variants = []Variant{
	{
		Key:         Low,
		Label:       "Low (4B)",
		Description: "5.5GB VRAM | Less precise, Faster (3.34 GB download)",
		Main: ArtifactSpec{
			Filename: "Qwen3VL-4B-Instruct-Q4_K_M.gguf",
			URL:      huggingFace + "/Qwen3-VL-4B-Instruct-GGUF/resolve/main/Qwen3VL-4B-Instruct-Q4_K_M.gguf",
			SizeMB:   2600,
		},
		Projector: ArtifactSpec{
			Filename: "mmproj-Qwen3VL-4B-Instruct-F16.gguf",
			URL:      huggingFace + "/Qwen3-VL-4B-Instruct-GGUF/resolve/main/mmproj-Qwen3VL-4B-Instruct-F16.gguf",
			SizeMB:   600,
		},
	},
	{
		Key:         Medium,
		Label:       "Medium (8B)",
		Description: "12GB VRAM | Great quality, Balanced (9.87 GB download)",
		Main: ArtifactSpec{
			Filename: "Qwen3VL-8B-Instruct-Q8_0.gguf",
			URL:      huggingFace + "/Qwen3-VL-8B-Instruct-GGUF/resolve/main/Qwen3VL-8B-Instruct-Q8_0.gguf",
			SizeMB:   8500,
		},
		Projector: ArtifactSpec{
			Filename: "mmproj-Qwen3VL-8B-Instruct-F16.gguf",
			URL:      huggingFace + "/Qwen3-VL-8B-Instruct-GGUF/resolve/main/mmproj-Qwen3VL-8B-Instruct-F16.gguf",
			SizeMB:   1500,
		},
	},
	{
		Key:         High,
		Label:       "High (30B)",
		Description: "33GB VRAM | Best quality, Slowest (33.58 GB download)",
		Main: ArtifactSpec{
			Filename: "Qwen3VL-30B-A3B-Instruct-Q8_0.gguf",
			URL:      huggingFace + "/Qwen3-VL-30B-A3B-Instruct-GGUF/resolve/main/Qwen3VL-30B-A3B-Instruct-Q8_0.gguf",
			SizeMB:   32000,
		},
		Projector: ArtifactSpec{
			Filename: "mmproj-Qwen3VL-30B-A3B-Instruct-F16.gguf",
			URL:      huggingFace + "/Qwen3-VL-30B-A3B-Instruct-GGUF/resolve/main/mmproj-Qwen3VL-30B-A3B-Instruct-F16.gguf",
			SizeMB:   2500,
		},
	},
}

// Default is the variant used when nothing has been configured.
const Default = Low

// Keys returns all variant keys in catalog order.
func Keys() []Key {
	keys := make([]Key, 0, len(variants))
	for _, v := range variants {
		keys = append(keys, v.Key)
	}
	return keys
}

// All returns a copy of every variant in catalog order.
func All() []Variant {
	return append([]Variant(nil), variants...)
}

// Lookup returns the variant for key. Variant is a value type, so callers
// cannot modify the catalog through the result.
func Lookup(key Key) (Variant, error) {
	for _, v := range variants {
		if v.Key == Key(strings.ToLower(string(key))) {
			return v, nil
		}
	}
	return Variant{}, fmt.Errorf("%w: %s", ErrUnknownVariant, key)
}

// Installed reports whether both of the variant's files exist in modelsDir.
func Installed(modelsDir string, key Key) bool {
	v, err := Lookup(key)
	if err != nil {
		return false
	}
	mainPath, projPath := v.Paths(modelsDir)
	return isFile(mainPath) && isFile(projPath)
}

// Delete removes the variant's files from modelsDir and returns a
// human-readable summary of what happened.
func Delete(modelsDir string, key Key) (string, error) {
	v, err := Lookup(key)
	if err != nil {
		return "", err
	}
	var log []string
	for _, a := range v.Artifacts() {
		p := filepath.Join(modelsDir, a.Filename)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := os.Remove(p); err != nil {
			log = append(log, fmt.Sprintf("Error %v", err))
			continue
		}
		log = append(log, "Deleted "+a.Filename)
	}
	if len(log) == 0 {
		return "Files not found.", nil
	}
	return strings.Join(log, ", "), nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
