package compose

import "testing"

const sampleManifest = `
name: myapp
services:
  web:
    image: nginx:latest
    ports:
      - "8080:80"
    volumes:
      - /host/data:/var/www:ro
      - cache:/tmp/cache
    environment:
      - FOO=bar
      - EMPTY=
  db:
    image: postgres:16
    environment:
      POSTGRES_PASSWORD: secret
`

func TestParseExtractsServicesAndVolumes(t *testing.T) {
	parsed, err := Parse(sampleManifest)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.StackName != "myapp" {
		t.Errorf("StackName = %q, want myapp", parsed.StackName)
	}
	web, ok := parsed.Services["web"]
	if !ok {
		t.Fatal("missing web service")
	}
	if web.Image != "nginx:latest" {
		t.Errorf("web image = %q", web.Image)
	}
	if len(web.DeclaredVolumeDestinations) != 2 {
		t.Fatalf("want 2 volume destinations, got %v", web.DeclaredVolumeDestinations)
	}
	if web.DeclaredVolumeDestinations[0] != "/var/www" || web.DeclaredVolumeDestinations[1] != "/tmp/cache" {
		t.Errorf("unexpected volume destinations: %v", web.DeclaredVolumeDestinations)
	}
	if web.EnvOverrides["FOO"] != "bar" {
		t.Errorf("FOO env = %q", web.EnvOverrides["FOO"])
	}
	if v, ok := web.EnvOverrides["EMPTY"]; !ok || v != "" {
		t.Errorf("EMPTY env should be present and empty, got %q ok=%v", v, ok)
	}

	db := parsed.Services["db"]
	if db.EnvOverrides["POSTGRES_PASSWORD"] != "secret" {
		t.Errorf("db password env = %q", db.EnvOverrides["POSTGRES_PASSWORD"])
	}
}

func TestParseMalformedManifest(t *testing.T) {
	_, err := Parse("services: [this is not a map")
	if err == nil {
		t.Fatal("expected parse error for malformed manifest")
	}
}

func TestParseLongFormVolumes(t *testing.T) {
	manifest := `
services:
  db:
    image: postgres:16
    volumes:
      - type: volume
        source: pgdata
        target: /var/lib/postgresql/data
      - /host/conf:/etc/conf:ro
`
	out, err := ParseLongFormVolumes(manifest)
	if err != nil {
		t.Fatalf("ParseLongFormVolumes: %v", err)
	}
	dests := out["db"]
	if len(dests) != 2 {
		t.Fatalf("want 2 dests, got %v", dests)
	}
	if dests[0] != "/var/lib/postgresql/data" || dests[1] != "/etc/conf" {
		t.Errorf("unexpected dests: %v", dests)
	}
}
