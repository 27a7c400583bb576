package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/morezero/resource-rpc/pkg/manifest"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// healthCheck probes one dependency.
type healthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthOutput is the /health response body.
type HealthOutput struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func (s *Server) health(ctx context.Context) *HealthOutput {
	out := &HealthOutput{
		Status:    statusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]string, len(s.checks)),
	}
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			out.Status = statusUnhealthy
			out.Checks[c.Name] = err.Error()
			continue
		}
		out.Checks[c.Name] = "ok"
	}
	return out
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		h := s.health(ctx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != statusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// homePageTemplate is the HTML for the service index page.
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Service}}</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    code { color: #333; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>{{.Service}}</h1>
  <p class="meta">{{.Description}}</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    {{range $name, $result := .Health.Checks}}
    <p>{{$name}}: {{if eq $result "ok"}}OK{{else}}<span class="error">{{$result}}</span>{{end}}</p>
    {{end}}
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Resources</h2>
    <table>
      <thead><tr><th>Name</th><th>Version</th><th>Actions</th><th>Filters</th><th>Subject</th></tr></thead>
      <tbody>
      {{range .Resources}}
      <tr>
        <td>{{.Name}}</td>
        <td>{{.Version}}</td>
        <td>{{range $i, $a := .Actions}}{{if $i}}, {{end}}{{$a}}{{end}}</td>
        <td>{{range $i, $f := .Filters}}{{if $i}}, {{end}}{{$f}}{{end}}</td>
        <td><code>{{.Subject}}</code></td>
      </tr>
      {{end}}
      </tbody>
    </table>
  </section>

  <section>
    <h2>Methods</h2>
    <p>gRPC service <code>{{.GRPCService}}</code></p>
    <table>
      <thead><tr><th>Method</th><th>Resource</th><th>Action</th><th>Request</th><th>Response</th></tr></thead>
      <tbody>
      {{range .Methods}}
      <tr><td>{{.Name}}</td><td>{{.Resource}}</td><td>{{.Action}}</td><td><code>{{.Request}}</code></td><td><code>{{.Response}}</code></td></tr>
      {{end}}
      </tbody>
    </table>
  </section>
</body>
</html>
`

// homeResource is one row of the resources table.
type homeResource struct {
	Name    string
	Version string
	Actions []string
	Filters []string
	Subject string
}

// homeData is the data passed to the home page template.
type homeData struct {
	Service     string
	Description string
	GRPCService string
	Health      *HealthOutput
	Resources   []homeResource
	Methods     []manifest.Method
}

// handleHome returns an HTTP handler for the service index page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{
			Service:     s.serviceName(),
			Description: s.manifest.Description,
			GRPCService: s.manifest.GRPCService,
			Health:      s.health(ctx),
			Methods:     s.manifest.Methods,
		}
		for _, def := range s.defs {
			res := homeResource{
				Name:    def.Name(),
				Version: def.Version().String(),
				Actions: def.Actions().Names(),
				Subject: s.subject(def),
			}
			for _, f := range def.Filters() {
				res.Filters = append(res.Filters, fmt.Sprintf("%s (%s)", f.Field, f.Kind))
			}
			data.Resources = append(data.Resources, res)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
