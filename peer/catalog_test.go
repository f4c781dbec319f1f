package peer

import (
	"testing"

	"lanshare/pkg/protocol"
)

func descriptor(name, hash, ip string, port int) protocol.FileDescriptor {
	return protocol.FileDescriptor{Name: name, Size: 10, OwnerIP: ip, OwnerPort: port, Hash: hash}
}

func TestCatalogUpsertDedupesHolders(t *testing.T) {
	c := NewCatalog()
	a := descriptor("a.txt", "h1", "10.0.0.2", 4000)
	b := descriptor("a-copy.txt", "h1", "10.0.0.3", 4000)

	if !c.Upsert(a, a.Owner()) {
		t.Error("first upsert should report a new hash")
	}
	if c.Upsert(a, a.Owner()) {
		t.Error("repeat upsert reported a new hash")
	}
	c.Upsert(b, b.Owner())

	holders := c.PeersWithFile("h1")
	if len(holders) != 2 || holders[0] != a.Owner() || holders[1] != b.Owner() {
		t.Errorf("holders = %v", holders)
	}
	// latest metadata wins
	if fd, _ := c.Lookup("h1"); fd.Name != "a-copy.txt" {
		t.Errorf("descriptor name = %s", fd.Name)
	}
}

func TestCatalogRemoveClearsBoth(t *testing.T) {
	c := NewCatalog()
	fd := descriptor("a.txt", "h1", "10.0.0.2", 4000)
	c.Upsert(fd, fd.Owner())
	c.Upsert(descriptor("b.txt", "h2", "10.0.0.2", 4000), fd.Owner())

	if !c.Remove("h1") {
		t.Fatal("Remove reported nothing removed")
	}
	if _, ok := c.Lookup("h1"); ok {
		t.Error("descriptor survived Remove")
	}
	if got := c.PeersWithFile("h1"); len(got) != 0 {
		t.Errorf("holders survived Remove: %v", got)
	}
	if c.Remove("h1") {
		t.Error("second Remove reported a removal")
	}
	if c.Len() != 1 || c.Files()[0].Hash != "h2" {
		t.Errorf("unrelated entry affected: %v", c.Files())
	}
}

func TestCatalogPeersWithFileIsACopy(t *testing.T) {
	c := NewCatalog()
	fd := descriptor("a.txt", "h1", "10.0.0.2", 4000)
	c.Upsert(fd, fd.Owner())
	got := c.PeersWithFile("h1")
	got[0].Port = 1
	if c.PeersWithFile("h1")[0].Port != 4000 {
		t.Error("caller mutated catalog state")
	}
}
