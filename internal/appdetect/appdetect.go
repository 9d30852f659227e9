// Package appdetect implements AppDetector (spec.md §4.4): image and
// label based classification used to pick a backup branch and to
// enrich metadata. Grounded in the teacher's image-substring checks in
// internal/backup/direct_volume.go, generalized to an ordered table.
package appdetect

import "strings"

// AppType is a classification tag. Only Postgres and MySQL influence
// the backup branch; the rest are advisory metadata.
type AppType string

const (
	Postgres  AppType = "postgres"
	MySQL     AppType = "mysql"
	Redis     AppType = "redis"
	MongoDB   AppType = "mongodb"
	RabbitMQ  AppType = "rabbitmq"
	Nginx     AppType = "nginx"
	Apache    AppType = "apache"
	Traefik   AppType = "traefik"
	Caddy     AppType = "caddy"
	Grafana   AppType = "grafana"
	Prometheus AppType = "prometheus"
	Elasticsearch AppType = "elasticsearch"
	Wordpress AppType = "wordpress"
	NodeJS    AppType = "nodejs"
	Generic   AppType = "generic"
)

// rule is one ordered (substring, type) entry. Earlier rules win on
// overlap (e.g. "timescale" images also contain "postgres"-adjacent
// naming but are still classified Postgres since both map there).
type rule struct {
	substring string
	appType   AppType
}

var imageRules = []rule{
	{"timescale", Postgres},
	{"postgres", Postgres},
	{"mariadb", MySQL},
	{"mysql", MySQL},
	{"redis", Redis},
	{"mongodb", MongoDB},
	{"mongo", MongoDB},
	{"rabbitmq", RabbitMQ},
	{"nginx", Nginx},
	{"httpd", Apache},
	{"apache", Apache},
	{"traefik", Traefik},
	{"caddy", Caddy},
	{"grafana", Grafana},
	{"prometheus", Prometheus},
	{"elasticsearch", Elasticsearch},
	{"wordpress", Wordpress},
	{"node", NodeJS},
}

// Detect classifies a container by label first (compose service name,
// image title label), falling back to the image reference, falling
// back to Generic. Labels take precedence over the image reference
// per spec.md §4.4.
func Detect(image string, labels map[string]string) AppType {
	if t, ok := fromLabels(labels); ok {
		return t
	}
	return fromImage(image)
}

func fromLabels(labels map[string]string) (AppType, bool) {
	candidates := []string{
		labels["com.docker.compose.service"],
		labels["org.opencontainers.image.title"],
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if t, ok := matchSubstring(c); ok {
			return t, true
		}
	}
	return "", false
}

func fromImage(image string) AppType {
	if t, ok := matchSubstring(image); ok {
		return t
	}
	return Generic
}

func matchSubstring(s string) (AppType, bool) {
	lower := strings.ToLower(s)
	for _, r := range imageRules {
		if strings.Contains(lower, r.substring) {
			return r.appType, true
		}
	}
	return "", false
}

// IsDatabase reports whether t is one of the database-branch types
// used by ContainerBackup's branch selection (postgres/mysql) or the
// broader database cohort used by StackRestore's phase 4 (also redis,
// mongodb).
func IsDatabase(t AppType) bool {
	switch t {
	case Postgres, MySQL, Redis, MongoDB:
		return true
	default:
		return false
	}
}

// IsDumpStrategy reports whether t drives ContainerBackup's Dump
// branch; only postgres/mysql influence the backup branch (spec.md
// §4.4, §4.5).
func IsDumpStrategy(t AppType) bool {
	return t == Postgres || t == MySQL
}
