package daemon

import (
	"fmt"
	"os"

	"github.com/mdp/qrterminal/v3"
	"go.uber.org/zap"

	"github.com/ffigueiredo/paperboy/internal/bus"
)

// qrPrinter mirrors pairing codes to stdout so an operator with a shell on
// the host can pair without opening the web page.
type qrPrinter struct {
	bus    *bus.Bus
	logger *zap.Logger
	quit   chan struct{}
	done   chan struct{}
	unsub  func()
}

func newQRPrinter(b *bus.Bus, logger *zap.Logger) *qrPrinter {
	return &qrPrinter{
		bus:    b,
		logger: logger,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (p *qrPrinter) Start() {
	ch, unsub := p.bus.Subscribe("session.qr", 16)
	p.unsub = unsub
	go func() {
		defer close(p.done)
		for {
			select {
			case evt := <-ch:
				if evt.Kind != "session.qr" {
					continue
				}
				code, ok := evt.Payload.(string)
				if !ok {
					continue
				}
				fmt.Fprintln(os.Stdout, "Scan this code with WhatsApp (Settings > Linked devices):")
				qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
				p.logger.Info("pairing code rendered to terminal")
			case <-p.quit:
				return
			}
		}
	}()
}

func (p *qrPrinter) Stop() {
	p.unsub()
	close(p.quit)
	<-p.done
}
