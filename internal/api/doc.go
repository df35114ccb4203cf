// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes; readyz reports 503 while a job runs.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/screenshot/full, /api/screenshot/collage, and /api/video/scroll return a single
//     binary asset.
//   - POST /api/generate returns any mix of assets as base64 JSON.
//   - GET /api/jobs and /api/jobs/{job_id} report recent jobs from the JobHistory.
package api
