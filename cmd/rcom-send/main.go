// Command rcom-send transmits a single file to a waiting rcom-recv peer
// over a point-to-point serial line.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/librescoot/rcom-filetransfer/internal/link"
	"github.com/librescoot/rcom-filetransfer/internal/status"
	"github.com/librescoot/rcom-filetransfer/internal/transfer"
)

var (
	device       = flag.String("serial", "/dev/ttyS0", "Serial device path")
	baudRate     = flag.Int("baud", 115200, "Serial baud rate")
	timeout      = flag.Int("timeout", 3, "Per-attempt timeout in seconds")
	retries      = flag.Int("retries", 3, "Maximum retransmissions per attempt")
	printStats   = flag.Bool("stats", true, "Print session statistics on close")
	printProgess = flag.Bool("progress", true, "Print a progress line while sending")
	redisAddr    = flag.String("redis-addr", "", "Optional Redis address for publishing transfer status (disabled if empty)")
	redisKey     = flag.String("redis-key", "rcom:send", "Redis hash key / channel name used for status updates")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <file>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}
	path := flag.Arg(0)

	log.Printf("Starting rcom-send")
	log.Printf("Serial device: %s, baud: %d", *device, *baudRate)

	var publisher *status.Publisher
	if *redisAddr != "" {
		p, err := status.NewPublisher(*redisAddr, *redisKey)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer p.Close()
		p.ReportState("connecting")
		publisher = p
	}

	conn, err := link.Open(link.Config{
		Device:             *device,
		Baud:               *baudRate,
		Role:               link.RoleSender,
		Timeout:            time.Duration(*timeout) * time.Second,
		MaxRetransmissions: *retries,
	})
	if err != nil {
		log.Fatalf("Failed to open link: %v", err)
	}
	log.Printf("Connected to receiver")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		// conn is not safe for concurrent use; this races with whatever
		// Write/Close call the main goroutine may be blocked in. Acceptable
		// for a best-effort interrupt path, since the process exits right
		// after.
		log.Printf("Interrupted, closing connection")
		conn.Close(*printStats)
		os.Exit(1)
	}()

	if publisher != nil {
		publisher.ReportState("sending")
	}

	sender := &transfer.Sender{Conn: conn}
	sender.Progress = func(done, total int64) {
		if *printProgess {
			log.Printf("Sent %d/%d bytes", done, total)
		}
		if publisher != nil {
			publisher.ReportProgress(done, total)
		}
	}

	sent, err := sender.Run(path)
	if err != nil {
		log.Printf("Transfer failed after %d bytes: %v", sent, err)
		if publisher != nil {
			publisher.ReportState("failed")
		}
		conn.Close(*printStats)
		os.Exit(1)
	}
	log.Printf("Transfer complete: %d bytes sent", sent)
	if publisher != nil {
		publisher.ReportState("complete")
	}

	if err := conn.Close(*printStats); err != nil {
		log.Fatalf("Failed to close link cleanly: %v", err)
	}
}
