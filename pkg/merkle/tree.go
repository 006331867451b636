// Package merkle builds binary Merkle trees over thread head hashes for
// amortized anchoring, and produces per-member inclusion proofs.
//
// The construction rule is fixed: leaves are ordered by thread id, an odd
// level is padded by duplicating its last hash, and leaf/node hashes use
// domain-separated prefixes so a leaf can never be confused with an interior
// node.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
)

const (
	leafPrefix = "weft:anchor:leaf:v1"
	nodePrefix = "weft:anchor:node:v1"
)

var ErrUnknownMember = errors.New("merkle: member not in tree")

// Leaf is one batch member: a thread and its head hash at batch time.
type Leaf struct {
	ThreadID string `json:"thread_id"`
	HeadHash string `json:"head_hash"`
	LeafHash string `json:"leaf_hash"`
}

// Tree is a constructed Merkle tree. Levels[0] holds the leaf hashes,
// Levels[len-1] the single root hash.
type Tree struct {
	Leaves []Leaf
	Root   string
	Levels [][]string
}

// LeafHash computes the domain-separated leaf hash for one member.
func LeafHash(threadID, headHash string) string {
	var buf bytes.Buffer
	buf.WriteString(leafPrefix)
	buf.WriteByte(0)
	buf.WriteString(threadID)
	buf.WriteByte(0)
	buf.WriteString(headHash)
	return sha256Hex(buf.Bytes())
}

// Build constructs a tree from thread id -> head hash members.
// Members are ordered by thread id; this rule must match on verification.
func Build(members map[string]string) (*Tree, error) {
	if len(members) == 0 {
		return nil, errors.New("merkle: empty batch")
	}

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	leaves := make([]Leaf, len(ids))
	for i, id := range ids {
		leaves[i] = Leaf{
			ThreadID: id,
			HeadHash: members[id],
			LeafHash: LeafHash(id, members[id]),
		}
	}

	tree := &Tree{Leaves: leaves}
	level := make([]string, len(leaves))
	for i, l := range leaves {
		level[i] = l.LeafHash
	}

	tree.Levels = append(tree.Levels, level)
	for len(level) > 1 {
		level = nextLevel(level)
		tree.Levels = append(tree.Levels, level)
	}

	tree.Root = level[0]
	return tree, nil
}

func nextLevel(hashes []string) []string {
	if len(hashes)%2 != 0 {
		hashes = append(hashes, hashes[len(hashes)-1]) // duplicate last
	}

	next := make([]string, len(hashes)/2)
	for i := 0; i < len(hashes); i += 2 {
		next[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return next
}

func nodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodePrefix)
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return sha256Hex(buf.Bytes())
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
