package compose

import (
	"context"
	"strings"
	"testing"
)

type fakeEnsurer struct {
	created []string
}

func (f *fakeEnsurer) EnsureNetwork(_ context.Context, name string) error {
	f.created = append(f.created, name)
	return nil
}

const conflictManifest = `
services:
  db:
    image: postgres:16
    container_name: fixed-name
    ports:
      - "5432:5432"
    healthcheck:
      test: ["CMD", "pg_isready"]
    dns:
      - 8.8.8.8
    networks:
      backend:
        ipv4_address: 10.0.0.5
  web:
    image: nginx
    depends_on:
      db:
        condition: service_healthy
networks:
  backend:
    external: true
  shared:
    external:
      name: shared-net
`

func TestRewriteRemovesConflictingKeys(t *testing.T) {
	published := map[int]bool{5432: true}
	ensurer := &fakeEnsurer{}

	out, remappings, err := Rewrite(context.Background(), conflictManifest, ensurer, published)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	if strings.Contains(out, "container_name") {
		t.Error("container_name should be deleted")
	}
	if strings.Contains(out, "healthcheck") {
		t.Error("healthcheck should be deleted")
	}
	if strings.Contains(out, "dns") {
		t.Error("dns should be deleted")
	}
	if strings.Contains(out, "ipv4_address") {
		t.Error("ipv4_address should be deleted")
	}
	if strings.Contains(out, "service_healthy") {
		t.Error("service_healthy should have become service_started")
	}
	if !strings.Contains(out, "service_started") {
		t.Error("expected service_started in rewritten manifest")
	}
	if !strings.Contains(out, "5433:5432") {
		t.Errorf("expected port remapped to 5433, got:\n%s", out)
	}
	if len(remappings) != 1 || remappings[0] != "db: 5432 -> 5433" {
		t.Errorf("unexpected remappings: %v", remappings)
	}

	if len(ensurer.created) != 2 {
		t.Fatalf("expected 2 external networks ensured, got %v", ensurer.created)
	}
}

func TestRewriteIsIdempotentWhenNoConflicts(t *testing.T) {
	manifest := `
services:
  web:
    image: nginx
    ports:
      - "8080:80"
`
	out, remappings, err := Rewrite(context.Background(), manifest, nil, map[int]bool{})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if len(remappings) != 0 {
		t.Errorf("expected no remappings, got %v", remappings)
	}
	if !strings.Contains(out, "8080:80") {
		t.Errorf("expected port unchanged, got:\n%s", out)
	}
}
