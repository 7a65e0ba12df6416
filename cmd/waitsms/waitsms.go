// SPDX-License-Identifier: MIT
//
// Copyright © 2018 Kent Gibson <warthog618@gmail.com>.

// waitsms watches a modem for new-message and delivery-report
// indications and logs them to stdout, while polling signal quality in
// parallel.
//
// This provides an example of using the Engine's event stream, as well
// as a test that the driver works against a real modem.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/sim800l/modem/at"
	"github.com/sim800l/modem/gsm"
	"github.com/sim800l/modem/serial"
	"github.com/sim800l/modem/trace"
)

func main() {
	dev := flag.String("d", "/dev/ttyUSB2", "path to modem device")
	baud := flag.Int("b", 115200, "baud rate")
	period := flag.Duration("p", 10*time.Minute, "period to wait")
	timeout := flag.Duration("t", 15*time.Second, "command timeout period")
	verbose := flag.Bool("v", false, "log modem interactions")
	hex := flag.Bool("x", false, "hex dump modem responses")
	flag.Parse()
	m, err := serial.New(serial.WithPort(*dev), serial.WithBaud(*baud))
	if err != nil {
		log.Println(err)
		return
	}
	defer m.Close()
	var mio io.ReadWriter = m
	if *hex {
		mio = trace.New(m, trace.WithReadFormat("r: %v"))
	} else if *verbose {
		mio = trace.New(m)
	}
	g := gsm.New(mio, gsm.WithCNMI("1,1,0,1,0"), gsm.WithDeliveryReport(true))
	defer g.Close()

	ictx, icancel := context.WithTimeout(context.Background(), *timeout)
	err = g.Init(ictx)
	icancel()
	if err != nil {
		log.Println(err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *period)
	defer cancel()
	go pollSignalQuality(ctx, g, *timeout)
	waitForIndications(ctx, g)
}

// pollSignalQuality polls the modem to read signal quality every
// minute, run in parallel with waitForIndications to demonstrate
// separate goroutines interacting with the modem.
func pollSignalQuality(ctx context.Context, g *gsm.GSM, timeout time.Duration) {
	for {
		select {
		case <-time.After(time.Minute):
			tctx, tcancel := context.WithTimeout(ctx, timeout)
			rssi, ber, err := g.SignalQuality(tctx)
			tcancel()
			if err != nil {
				log.Println(err)
			} else {
				log.Printf("signal quality: rssi=%d ber=%d\n", rssi, ber)
			}
		case <-ctx.Done():
			return
		}
	}
}

// waitForIndications logs new-message and delivery-report indications
// as the engine publishes them, until ctx is done.
func waitForIndications(ctx context.Context, g *gsm.GSM) {
	for {
		select {
		case <-ctx.Done():
			log.Println("exiting...")
			return
		case ev, ok := <-g.Events():
			if !ok {
				log.Println("modem closed, exiting...")
				return
			}
			switch e := ev.(type) {
			case at.EventIncomingSMS:
				log.Printf("new SMS stored at index %s\n", e.Index)
			case at.EventDeliveryReport:
				log.Printf("delivery report: ref=%d data=%s\n", e.ShortID, e.Data)
			case at.EventNetwork:
				log.Printf("network: action=%d status=%d\n", e.Action, e.Status)
			}
		}
	}
}
