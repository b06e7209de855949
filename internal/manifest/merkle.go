package manifest

import (
	"encoding/base64"

	"github.com/zeebo/blake3"
)

// ComputeMerkleRoot folds base64 chunk hashes pairwise with BLAKE3 until one
// remains. An odd node is paired with itself.
func ComputeMerkleRoot(chunkHashes []string) (string, error) {
	if len(chunkHashes) == 0 {
		return "", nil
	}

	level := make([][]byte, len(chunkHashes))
	for i, h := range chunkHashes {
		decoded, err := base64.StdEncoding.DecodeString(h)
		if err != nil {
			return "", err
		}
		level[i] = decoded
	}

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			h := blake3.New()
			h.Write(level[i])
			h.Write(right)
			next = append(next, h.Sum(nil))
		}
		level = next
	}

	return base64.StdEncoding.EncodeToString(level[0]), nil
}
