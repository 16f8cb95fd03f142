package cluster

import (
	"encoding/json"
	"testing"
)

func TestDecodeMeta(t *testing.T) {
	meta := map[string]interface{}{
		"server_port": 8081,
	}
	data, _ := json.Marshal(meta)

	serverPort := decodeMeta(data)
	if serverPort != 8081 {
		t.Errorf("expected 8081, got %d", serverPort)
	}

	if got := decodeMeta(nil); got != 0 {
		t.Errorf("expected 0 for empty meta, got %d", got)
	}
	if got := decodeMeta([]byte("not-json")); got != 0 {
		t.Errorf("expected 0 for malformed meta, got %d", got)
	}
}

func TestAdapter_NodeMeta(t *testing.T) {
	a := &Adapter{
		serverPort: 8082,
	}

	data := a.NodeMeta(0)
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}

	if m["server_port"].(float64) != 8082 {
		t.Errorf("expected 8082, got %v", m["server_port"])
	}
}
