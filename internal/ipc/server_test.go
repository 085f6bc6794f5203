package ipc

import (
	"errors"
	"path/filepath"
	"testing"
)

type fakeHandler struct {
	values map[string]string
	synced bool
}

func newFakeHandler() *fakeHandler { return &fakeHandler{values: map[string]string{}} }

func (h *fakeHandler) Get(key string) (string, bool, error) {
	v, ok := h.values[key]
	return v, ok, nil
}

func (h *fakeHandler) Set(key, value string) error {
	h.values[key] = value
	return nil
}

func (h *fakeHandler) Delete(key string) error {
	delete(h.values, key)
	return nil
}

func (h *fakeHandler) List() ([]KV, error) {
	out := make([]KV, 0, len(h.values))
	for k, v := range h.values {
		out = append(out, KV{Key: k, Value: v})
	}
	return out, nil
}

func (h *fakeHandler) Peers() ([]Peer, error) {
	return []Peer{{ID: "self", Address: "LAN Server on port 8765"}}, nil
}

func (h *fakeHandler) Sync() error { h.synced = true; return nil }

func (h *fakeHandler) Shutdown() error { return nil }

type erroringHandler struct{ fakeHandler }

func (h *erroringHandler) Get(key string) (string, bool, error) {
	return "", false, errors.New("key absent")
}

func startTestServer(t *testing.T, handler Handler) (*Server, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "envmesh.sock")
	srv, err := Listen("unix", sock, handler)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, sock
}

func TestSetGetDeleteRoundTrip(t *testing.T) {
	_, sock := startTestServer(t, newFakeHandler())

	client, err := Dial("unix", sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if err := client.Set("FOO", "bar"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, found, err := client.Get("FOO")
	if err != nil || !found || value != "bar" {
		t.Fatalf("Get: value=%q found=%v err=%v", value, found, err)
	}

	if err := client.Delete("FOO"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, err := client.Get("FOO"); err != nil || found {
		t.Fatalf("expected not found after delete, found=%v err=%v", found, err)
	}
}

func TestListAndPeers(t *testing.T) {
	handler := newFakeHandler()
	handler.values["A"] = "1"
	_, sock := startTestServer(t, handler)

	client, err := Dial("unix", sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	items, err := client.List()
	if err != nil || len(items) != 1 || items[0].Key != "A" {
		t.Fatalf("List: items=%+v err=%v", items, err)
	}

	peers, err := client.Peers()
	if err != nil || len(peers) != 1 || peers[0].ID != "self" {
		t.Fatalf("Peers: peers=%+v err=%v", peers, err)
	}
}

func TestGetErrorSurfacesAsErrorResponse(t *testing.T) {
	_, sock := startTestServer(t, &erroringHandler{})

	client, err := Dial("unix", sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if _, _, err := client.Get("whatever"); err == nil {
		t.Fatal("expected an error response")
	}
}

func TestSyncDispatchesToHandler(t *testing.T) {
	handler := newFakeHandler()
	_, sock := startTestServer(t, handler)

	client, err := Dial("unix", sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if err := client.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !handler.synced {
		t.Error("expected handler.Sync to have been called")
	}
}
