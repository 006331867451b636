package merkle

import (
	"fmt"
	"testing"
)

func testMembers(n int) map[string]string {
	members := make(map[string]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("thread-%03d", i)
		members[id] = sha256Hex([]byte(id + "-head"))
	}
	return members
}

func TestBuild_EmptyBatchRejected(t *testing.T) {
	if _, err := Build(nil); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestBuild_SingleLeaf(t *testing.T) {
	members := testMembers(1)
	tree, err := Build(members)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if tree.Root != tree.Leaves[0].LeafHash {
		t.Error("single-leaf root should equal the leaf hash")
	}

	proof, err := tree.Proof("thread-000")
	if err != nil {
		t.Fatalf("Proof failed: %v", err)
	}
	if !VerifyProof(proof, members["thread-000"], tree.Root) {
		t.Error("single-leaf proof should verify")
	}
}

func TestBuild_OrderIndependent(t *testing.T) {
	// Map iteration order must not affect the root; leaves sort by thread id.
	t1, err := Build(testMembers(9))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t2, err := Build(testMembers(9))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if t1.Root != t2.Root {
		t.Errorf("roots differ: %s vs %s", t1.Root, t2.Root)
	}
}

func TestProof_RoundTripAllMembers(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 8, 13} {
		members := testMembers(n)
		tree, err := Build(members)
		if err != nil {
			t.Fatalf("Build(%d) failed: %v", n, err)
		}

		for id, head := range members {
			proof, err := tree.Proof(id)
			if err != nil {
				t.Fatalf("Proof(%s) in %d-leaf tree: %v", id, n, err)
			}
			if !VerifyProof(proof, head, tree.Root) {
				t.Errorf("proof for %s in %d-leaf tree did not resolve to root", id, n)
			}
		}
	}
}

func TestProof_FlippedLeafInvalidatesOnlyThatLeaf(t *testing.T) {
	members := testMembers(6)
	tree, err := Build(members)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// A thread whose head hash changed after batching fails its own proof.
	proof, _ := tree.Proof("thread-002")
	if VerifyProof(proof, sha256Hex([]byte("tampered")), tree.Root) {
		t.Error("proof must fail for an altered head hash")
	}

	// Every other member still verifies against the same root.
	for id, head := range members {
		if id == "thread-002" {
			continue
		}
		p, _ := tree.Proof(id)
		if !VerifyProof(p, head, tree.Root) {
			t.Errorf("unrelated member %s invalidated", id)
		}
	}
}

func TestVerifyProof_WrongRoot(t *testing.T) {
	members := testMembers(4)
	tree, _ := Build(members)
	proof, _ := tree.Proof("thread-001")

	if VerifyProof(proof, members["thread-001"], sha256Hex([]byte("other-root"))) {
		t.Error("proof must fail against a different expected root")
	}
}

func TestProof_UnknownMember(t *testing.T) {
	tree, _ := Build(testMembers(3))
	if _, err := tree.Proof("thread-999"); err != ErrUnknownMember {
		t.Errorf("expected ErrUnknownMember, got %v", err)
	}
}
