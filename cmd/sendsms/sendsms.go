// SPDX-License-Identifier: MIT
//
// Copyright © 2018 Kent Gibson <warthog618@gmail.com>.

// sendsms sends an SMS using the modem.
//
// This provides an example of using the GSM facade's SendSMS command,
// as well as a test that the driver works against a real modem.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/sim800l/modem/gsm"
	"github.com/sim800l/modem/serial"
	"github.com/sim800l/modem/sms"
	"github.com/sim800l/modem/trace"
)

func main() {
	dev := flag.String("d", "/dev/ttyUSB0", "path to modem device")
	baud := flag.Int("b", 115200, "baud rate")
	num := flag.String("n", "+12345", "number to send to, in international format")
	msg := flag.String("m", "Zoot Zoot", "the message to send")
	timeout := flag.Duration("t", 15*time.Second, "command timeout period")
	pin := flag.String("pin", "", "SIM PIN, if required")
	verbose := flag.Bool("v", false, "log modem interactions")
	hex := flag.Bool("x", false, "hex dump modem responses")
	flag.Parse()

	m, err := serial.New(serial.WithPort(*dev), serial.WithBaud(*baud))
	if err != nil {
		log.Fatal(err)
	}
	var mio io.ReadWriter = m
	if *hex {
		mio = trace.New(m, trace.WithLogger(log.New(os.Stdout, "", log.LstdFlags)), trace.WithReadFormat("r: %v"))
	} else if *verbose {
		mio = trace.New(m, trace.WithLogger(log.New(os.Stdout, "", log.LstdFlags)))
	}
	g := gsm.New(mio, gsm.WithPIN(*pin), gsm.WithDeliveryReport(true))
	defer g.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := g.Init(ctx); err != nil {
		log.Fatal(err)
	}

	result, err := g.SendSMS(*num, *msg)
	if err != nil {
		log.Fatal(err)
	}
	for ev := range g.SMS.Events() {
		sc, ok := ev.(sms.EventStatusChange)
		if !ok || sc.SMSID != result.ID {
			continue
		}
		log.Printf("part %s: %s\n", sc.PartID, sc.Status)
		if result.Done() {
			return
		}
	}
}
