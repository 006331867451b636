//go:build property
// +build property

package merkle

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestMerkleProofProperty verifies that for any batch size, every member's
// generated proof resolves to the batch root.
func TestMerkleProofProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("all proofs resolve to the root", prop.ForAll(
		func(n int) bool {
			members := make(map[string]string, n)
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("t-%04d", i)
				members[id] = sha256Hex([]byte(id))
			}

			tree, err := Build(members)
			if err != nil {
				return false
			}
			for id, head := range members {
				proof, err := tree.Proof(id)
				if err != nil || !VerifyProof(proof, head, tree.Root) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 64),
	))

	properties.Property("construction is deterministic", prop.ForAll(
		func(heads []string) bool {
			if len(heads) == 0 {
				return true
			}
			members := make(map[string]string, len(heads))
			for i, h := range heads {
				members[fmt.Sprintf("t-%d", i)] = h
			}
			t1, err1 := Build(members)
			t2, err2 := Build(members)
			return err1 == nil && err2 == nil && t1.Root == t2.Root
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
