// Pdsink negotiates a USB-PD contract against an FUSB302B attached to a
// host I²C bus, logs the source's advertised capabilities, and reports
// power transitions on stdout.
//
// Adjust the policy constants below to your board's needs before
// building.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/gousbpd/sinkstack/pddpm"
	"github.com/gousbpd/sinkstack/pdport"
	"github.com/gousbpd/sinkstack/pdtcpc/fusb302"
)

const (
	busName = "1"
	mpn     = fusb302.FUSB302BMPX
)

var policy = pddpm.CVPolicy{
	MinVoltage: 9000,
	MaxVoltage: 12000,
	Current:    2000,
}

// consoleOutput stands in for a real output stage: a board would switch a
// load FET or program a regulator here.
type consoleOutput struct{}

func (consoleOutput) SetOutput(voltageMV, currentMA uint16) error {
	fmt.Printf("power is on: %d mV, %d mA\n", voltageMV, currentMA)
	return nil
}

func (consoleOutput) DisableOutput() error {
	fmt.Println("power is off")
	return nil
}

func main() {
	if err := policy.Validate(); err != nil {
		log.Fatalf("invalid policy: %v", err)
	}

	if _, err := host.Init(); err != nil {
		log.Fatalf("host init: %v", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		log.Fatalf("opening i2c bus %q: %v", busName, err)
	}
	defer bus.Close()
	if err := bus.SetSpeed(physic.MegaHertz); err != nil {
		log.Printf("setting bus speed: %v", err)
	}

	phy := fusb302.New(bus, mpn)
	dpm := pddpm.NewLogger(os.Stdout, "\n", &pddpm.Policy{
		Eval:   &policy,
		Output: consoleOutput{},
	})

	port := pdport.New(phy, dpm, pdport.Options{
		Log: log.New(os.Stderr, "pdsink: ", log.LstdFlags),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := port.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("port: %v", err)
	}
}
