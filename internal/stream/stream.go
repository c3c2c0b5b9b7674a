// Package stream serves the GovLedger live feed and REST API.
//
// Mounted by `govledger serve`:
//
//	Web UI:     GET  /                 — Single-page HTML live feed
//	WebSocket:  GET  /ws               — Records pushed as they are logged
//	REST API:   GET  /api/status       — Ledger and store counters
//	            GET  /api/records      — Filtered ledger query
//	            GET  /api/verify       — Chain integrity check
//	            GET  /api/trust        — Trust assignments
//	            GET  /api/consents     — Consent grants
//	            GET  /api/budgets      — Budget envelopes
//	            POST /api/evaluate     — Run a request through the engine
//	Health:     GET  /health
//
// The web UI is a minimal embedded HTML page (no build step, no
// framework) showing records as they arrive over the WebSocket.
package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/govledger/govledger/internal/audit"
	"github.com/govledger/govledger/internal/governance"
)

// Options holds the dependencies injected into the server.
type Options struct {
	Logger   *audit.Logger
	Engine   *governance.Engine
	Trust    *governance.TrustStore
	Consents *governance.ConsentStore
	Budgets  *governance.BudgetStore
}

// Server serves the live feed and REST API.
type Server struct {
	logger   *audit.Logger
	engine   *governance.Engine
	trust    *governance.TrustStore
	consents *governance.ConsentStore
	budgets  *governance.BudgetStore
	hub      *wsHub
}

// New creates a Server and starts its WebSocket broadcast hub.
func New(opts Options) *Server {
	s := &Server{
		logger:   opts.Logger,
		engine:   opts.Engine,
		trust:    opts.Trust,
		consents: opts.Consents,
		budgets:  opts.Budgets,
		hub:      newWSHub(),
	}
	go s.hub.run()
	return s
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/records", s.handleRecords)
	mux.HandleFunc("/api/verify", s.handleVerify)
	mux.HandleFunc("/api/trust", s.handleTrust)
	mux.HandleFunc("/api/consents", s.handleConsents)
	mux.HandleFunc("/api/budgets", s.handleBudgets)
	mux.HandleFunc("/api/evaluate", s.handleEvaluate)

	return mux
}

// Broadcast pushes a freshly logged record to all WebSocket clients.
// Wired as the audit logger's OnRecord callback.
func (s *Server) Broadcast(rec audit.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("failed to marshal broadcast record", "error", err)
		return
	}
	s.hub.broadcast(data)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(feedHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns ledger and store counters.
// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	count, err := s.logger.Count(r.Context())
	if err != nil {
		slog.Error("ledger count failed", "error", err)
		http.Error(w, "ledger count failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "running",
		"records":  count,
		"lastHash": s.logger.LastHash(),
		"trust":    len(s.trust.List()),
		"consents": len(s.consents.List()),
		"budgets":  len(s.budgets.List()),
	})
}

// handleRecords returns ledger records matching query parameters.
// GET /api/records?agent=a1&outcome=deny&protocol=trust&from=...&to=...&limit=50&offset=0
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		AgentID:  q.Get("agent"),
		Action:   q.Get("action"),
		Outcome:  audit.Outcome(q.Get("outcome")),
		Protocol: q.Get("protocol"),
		From:     q.Get("from"),
		To:       q.Get("to"),
	}
	filter.Limit = 50
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	if o := q.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed > 0 {
			filter.Offset = parsed
		}
	}

	records, err := s.logger.Query(r.Context(), filter)
	if err != nil {
		slog.Error("ledger query failed", "error", err)
		http.Error(w, "ledger query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleVerify runs a chain integrity check over the retained ledger.
// GET /api/verify
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	res, err := s.logger.Verify(r.Context())
	if err != nil {
		slog.Error("ledger verify failed", "error", err)
		http.Error(w, "ledger verify failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/trust
func (s *Server) handleTrust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.trust.List())
}

// GET /api/consents
func (s *Server) handleConsents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.consents.List())
}

// GET /api/budgets
func (s *Server) handleBudgets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.budgets.List())
}

// handleEvaluate runs one request through the governance pipeline.
// POST /api/evaluate  { "agent": "a1", "action": "files:read", "cost": 2.5 }
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Agent    string         `json:"agent"`
		Action   string         `json:"action"`
		Cost     float64        `json:"cost"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Agent == "" || req.Action == "" {
		http.Error(w, "agent and action fields required", http.StatusBadRequest)
		return
	}

	decision, err := s.engine.Evaluate(r.Context(), governance.Request{
		AgentID:  req.Agent,
		Action:   req.Action,
		Cost:     req.Cost,
		Metadata: req.Metadata,
	})
	if err != nil {
		slog.Error("evaluate via API failed", "agent", req.Agent, "error", err)
		http.Error(w, "evaluation failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":  decision.Allowed,
		"deniedBy": decision.DeniedBy,
		"reason":   decision.Reason,
		"records":  decision.Records,
	})
}

// --- Helpers ---

// writeJSON sends a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

// feedHTML is the embedded single-page live feed. Minimal on purpose:
// connects to /ws, prepends each record to a table, polls /api/status.
const feedHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>GovLedger</title>
<style>
  body { font-family: ui-monospace, monospace; margin: 2rem; background: #111; color: #ddd; }
  h1 { font-size: 1.2rem; }
  #status { color: #888; margin-bottom: 1rem; }
  table { border-collapse: collapse; width: 100%; }
  th, td { text-align: left; padding: 4px 10px; border-bottom: 1px solid #333; font-size: 0.85rem; }
  .permit { color: #6c6; }
  .deny { color: #e66; }
</style>
</head>
<body>
<h1>GovLedger — live decision feed</h1>
<div id="status">connecting…</div>
<table>
  <thead><tr><th>time</th><th>agent</th><th>action</th><th>protocol</th><th>outcome</th><th>reason</th></tr></thead>
  <tbody id="feed"></tbody>
</table>
<script>
async function refreshStatus() {
  try {
    const s = await (await fetch('/api/status')).json();
    document.getElementById('status').textContent =
      s.records + ' records · tip ' + s.lastHash.slice(0, 12) + '…';
  } catch (e) {}
}
function connect() {
  const ws = new WebSocket('ws://' + location.host + '/ws');
  ws.onmessage = (ev) => {
    const rec = JSON.parse(ev.data);
    const row = document.createElement('tr');
    row.innerHTML = '<td>' + rec.timestamp + '</td><td>' + rec.agentId +
      '</td><td>' + rec.action + '</td><td>' + rec.protocol +
      '</td><td class="' + rec.outcome + '">' + rec.outcome +
      '</td><td>' + (rec.reason || '') + '</td>';
    const feed = document.getElementById('feed');
    feed.insertBefore(row, feed.firstChild);
    while (feed.children.length > 200) feed.removeChild(feed.lastChild);
    refreshStatus();
  };
  ws.onclose = () => setTimeout(connect, 2000);
}
connect();
refreshStatus();
setInterval(refreshStatus, 10000);
</script>
</body>
</html>
`
