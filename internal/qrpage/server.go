// Package qrpage serves the pairing page: a browser-scannable QR code plus
// a small health endpoint. The page is how an operator pairs a headless
// deployment without shell access to the terminal QR.
package qrpage

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/ffigueiredo/paperboy/internal/bus"
	"github.com/ffigueiredo/paperboy/internal/status"
)

// StateSource reports the current session state.
type StateSource interface {
	Current() status.State
}

// Server is the pairing web server. It tracks the active QR code from bus
// events; outside a pairing window the image endpoint serves 404 and the
// page shows only the session state.
type Server struct {
	state   StateSource
	bus     *bus.Bus
	logger  *zap.Logger
	srv     *http.Server
	started time.Time
	quit    chan struct{}
	unsub   func()

	mu   sync.Mutex
	code string
}

// NewServer builds the server on the given port. Start binds it.
func NewServer(port int, state StateSource, b *bus.Bus, logger *zap.Logger) *Server {
	s := &Server{
		state:  state,
		bus:    b,
		logger: logger,
		quit:   make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleIndex)
	r.Get("/qr.png", s.handleQRPNG)
	r.Get("/healthz", s.handleHealthz)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start binds the listener and begins tracking QR codes. Binding happens
// here, not in the serve goroutine, so a taken port fails startup instead
// of surfacing minutes later.
func (s *Server) Start() error {
	s.started = time.Now()

	ch, unsub := s.bus.Subscribe("session.", 64)
	s.unsub = unsub
	go s.watch(ch)

	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("qr page listen: %w", err)
	}
	s.logger.Info("QR page listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("qr page server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains the server and ends QR tracking.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsub != nil {
		s.unsub()
	}
	close(s.quit)
	return s.srv.Shutdown(ctx)
}

func (s *Server) watch(ch <-chan bus.Event) {
	for {
		select {
		case evt := <-ch:
			s.handleBusEvent(evt)
		case <-s.quit:
			return
		}
	}
}

func (s *Server) handleBusEvent(evt bus.Event) {
	switch evt.Kind {
	case "session.qr":
		if code, ok := evt.Payload.(string); ok {
			s.setCode(code)
		}
	case "session.qr_cleared", "session.open":
		s.setCode("")
	}
}

func (s *Server) setCode(code string) {
	s.mu.Lock()
	s.code = code
	s.mu.Unlock()
}

func (s *Server) currentCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Paperboy pairing</title>
<style>
  body { font-family: sans-serif; max-width: 34rem; margin: 3rem auto; text-align: center; }
  #state { color: #555; }
  img { image-rendering: pixelated; }
</style>
</head>
<body>
<h1>Paperboy</h1>
<p id="state">checking&hellip;</p>
<img id="qr" src="/qr.png" alt="pairing QR code" width="256" height="256" style="display:none">
<script>
async function refresh() {
  try {
    const res = await fetch('/healthz');
    const h = await res.json();
    document.getElementById('state').textContent = 'Session: ' + h.state;
    const img = document.getElementById('qr');
    if (h.qr_pending) {
      img.src = '/qr.png?t=' + Date.now();
      img.style.display = '';
    } else {
      img.style.display = 'none';
    }
  } catch (e) {}
}
refresh();
setInterval(refresh, 2000);
</script>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, indexHTML)
}

func (s *Server) handleQRPNG(w http.ResponseWriter, r *http.Request) {
	code := s.currentCode()
	if code == "" {
		http.Error(w, "no pairing in progress", http.StatusNotFound)
		return
	}
	png, err := qrcode.Encode(code, qrcode.Medium, 512)
	if err != nil {
		s.logger.Error("QR encode failed", zap.Error(err))
		http.Error(w, "QR generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

type healthResponse struct {
	State     string  `json:"state"`
	QRPending bool    `json:"qr_pending"`
	UptimeSec float64 `json:"uptime_seconds"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		State:     string(s.state.Current()),
		QRPending: s.currentCode() != "",
		UptimeSec: time.Since(s.started).Seconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
