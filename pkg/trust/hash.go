package trust

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Hash returns a stable SHA1 digest of the canonicalized document. Two
// documents that differ only in key order or whitespace hash identically.
func Hash(doc *Document) (string, error) {
	// Round-trip through a generic value so map keys marshal sorted.
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("failed to canonicalize document: %w", err)
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("failed to marshal canonical document: %w", err)
	}

	sum := sha1.Sum(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Duplicates groups document names by identical content hash. Only groups
// with two or more members are returned, sorted by name for stable output.
func Duplicates(docs map[string]*Document) (map[string][]string, error) {
	byHash := make(map[string][]string)
	for name, doc := range docs {
		h, err := Hash(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to hash document %s: %w", name, err)
		}
		byHash[h] = append(byHash[h], name)
	}

	out := make(map[string][]string)
	for h, names := range byHash {
		if len(names) < 2 {
			continue
		}
		sort.Strings(names)
		out[h] = names
	}
	return out, nil
}
