package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadFileThenEnv(t *testing.T) {
	p := writeFile(t, `
node_id: gw-a
http:
  addr: ":9000"
jwt:
  secret: from-file
gateway:
  ping_interval: 10s
  offline_timeout: 3s
redis:
  addr: "redis:6379"
  enabled: true
hub:
  workers: 2
`)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("GATEWAY_ID", "")
	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("NATS_URL", "nats://a:4222, nats://b:4222")

	c, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.NodeID != "gw-a" || c.HTTP.Addr != ":9100" || c.JWT.Secret != "from-file" {
		t.Fatalf("config = %+v", c)
	}
	if c.Gateway.PingInterval != 10*time.Second || c.Gateway.PongWait != 60*time.Second ||
		c.Gateway.OfflineTimeout != 3*time.Second || c.Gateway.EventTimeout != 5*time.Second {
		t.Fatalf("gateway = %+v", c.Gateway)
	}
	if !c.Redis.Enabled || c.Redis.Addr != "redis:6379" || c.Hub.Workers != 2 || c.Hub.Stripes != 64 {
		t.Fatalf("redis/hub = %+v %+v", c.Redis, c.Hub)
	}
	if !c.NATS.Enabled || len(c.NATS.Servers) != 2 || c.NATS.Servers[1] != "nats://b:4222" {
		t.Fatalf("nats = %+v", c.NATS)
	}
	if Global.NodeID != "gw-a" {
		t.Fatal("Global not updated")
	}
}

func TestLoadRequiresSecretAndFillsNodeID(t *testing.T) {
	t.Setenv("GATEWAY_ID", "")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(""); err == nil {
		t.Fatal("missing secret accepted")
	}

	t.Setenv("JWT_SECRET", "s")
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(c.NodeID, "gw-") {
		t.Fatalf("node id = %q", c.NodeID)
	}
}
