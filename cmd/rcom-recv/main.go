// Command rcom-recv waits for a single file from an rcom-send peer over a
// point-to-point serial line and writes it into an output directory.
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
	outDir       = flag.String("outdir", ".", "Directory to write the received file into")
	printStats   = flag.Bool("stats", true, "Print session statistics on close")
	printProgess = flag.Bool("progress", true, "Print a progress line while receiving")
	redisAddr    = flag.String("redis-addr", "", "Optional Redis address for publishing transfer status (disabled if empty)")
	redisKey     = flag.String("redis-key", "rcom:recv", "Redis hash key / channel name used for status updates")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting rcom-recv")
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
		Role:               link.RoleReceiver,
		Timeout:            time.Duration(*timeout) * time.Second,
		MaxRetransmissions: *retries,
	})
	if err != nil {
		log.Fatalf("Failed to open link: %v", err)
	}
	log.Printf("Connected to sender")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		// conn is not safe for concurrent use; this races with whatever
		// Read/Close call the main goroutine may be blocked in. Acceptable
		// for a best-effort interrupt path, since the process exits right
		// after.
		log.Printf("Interrupted, closing connection")
		conn.Close(*printStats)
		os.Exit(1)
	}()

	if publisher != nil {
		publisher.ReportState("receiving")
	}

	receiver := &transfer.Receiver{Conn: conn}
	receiver.Progress = func(done, total int64) {
		if *printProgess {
			log.Printf("Received %d/%d bytes", done, total)
		}
		if publisher != nil {
			publisher.ReportProgress(done, total)
		}
	}

	written, err := receiver.Run(*outDir)
	if err != nil {
		log.Printf("Transfer failed after %d bytes: %v", written, err)
		if publisher != nil {
			publisher.ReportState("failed")
		}
		conn.Close(*printStats)
		os.Exit(1)
	}
	log.Printf("Transfer complete: %d bytes received", written)
	if publisher != nil {
		publisher.ReportState("complete")
	}

	// Close awaits the sender's DISC itself; reading it here first would
	// only make Close's own await time out and force a wasted retransmit.
	if err := conn.Close(*printStats); err != nil {
		log.Fatalf("Failed to close link cleanly: %v", err)
	}

	fmt.Println("Done.")
}
