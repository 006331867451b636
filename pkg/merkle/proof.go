package merkle

// InclusionProof proves one thread's membership in a batch root.
// The proof is stored per thread, not per batch.
type InclusionProof struct {
	ThreadID   string      `json:"thread_id"`
	LeafHash   string      `json:"leaf_hash"`
	MerkleRoot string      `json:"merkle_root"`
	Path       []ProofStep `json:"path"`
}

// ProofStep is one sibling on the path from leaf to root.
// Side records where the sibling sits relative to the running hash.
type ProofStep struct {
	Side        string `json:"side"` // "L" or "R"
	SiblingHash string `json:"sibling_hash"`
}

// Proof generates the inclusion proof for one member of the tree.
func (t *Tree) Proof(threadID string) (InclusionProof, error) {
	index := -1
	for i, l := range t.Leaves {
		if l.ThreadID == threadID {
			index = i
			break
		}
	}
	if index == -1 {
		return InclusionProof{}, ErrUnknownMember
	}

	proof := InclusionProof{
		ThreadID:   threadID,
		LeafHash:   t.Leaves[index].LeafHash,
		MerkleRoot: t.Root,
	}

	for _, level := range t.Levels[:len(t.Levels)-1] {
		siblingIndex := index ^ 1
		var sibling string
		if siblingIndex < len(level) {
			sibling = level[siblingIndex]
		} else {
			// Odd level: the duplicated last hash is its own sibling.
			sibling = level[index]
		}

		side := "R"
		if siblingIndex < index {
			side = "L"
		}
		proof.Path = append(proof.Path, ProofStep{Side: side, SiblingHash: sibling})
		index /= 2
	}

	return proof, nil
}

// VerifyProof checks that the proof binds the given head hash to the
// expected root. The leaf hash is recomputed from the thread's current head
// hash, so a thread whose chain moved on after batching fails verification.
func VerifyProof(proof InclusionProof, headHash, expectedRoot string) bool {
	if expectedRoot != "" && proof.MerkleRoot != expectedRoot {
		return false
	}
	if LeafHash(proof.ThreadID, headHash) != proof.LeafHash {
		return false
	}

	current := proof.LeafHash
	for _, step := range proof.Path {
		if step.Side == "L" {
			current = nodeHash(step.SiblingHash, current)
		} else {
			current = nodeHash(current, step.SiblingHash)
		}
	}
	return current == proof.MerkleRoot
}
