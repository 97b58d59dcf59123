// Copyright (c) 2025 The Uplink Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/medrelay/uplink/auth"
	"github.com/medrelay/uplink/config"
	"github.com/medrelay/uplink/connection"
	"github.com/medrelay/uplink/engine"
	"github.com/medrelay/uplink/journal"
	"github.com/medrelay/uplink/queue"
	"github.com/medrelay/uplink/services"
	"github.com/medrelay/uplink/uploader"
)

//go:generate mkdir -p services/docs
//go:generate redoc-cli bundle docs/openapi.yaml
//go:generate cp docs/openapi.yaml services/docs/openapi.yaml
//go:generate mv redoc-static.html services/docs/index.html

// The above logic generates openapi_doc.go as part of the docs package, and
// gives it an endpoint prefix of "docs". To enable these endpoints, you must
// use the "docs" build: go build -tags docs

// Prints usage info.
func usage() {
	fmt.Fprintf(os.Stderr, "%s: usage:\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "%s <config_file>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "See README.md for details on config files.\n")
	os.Exit(1)
}

// Logs engine events as they arrive. The engine's event channel must be
// drained, so this runs for the life of the process.
func logEvents(events <-chan engine.Event) {
	for event := range events {
		switch event.Type {
		case engine.EventProgress:
			slog.Debug(fmt.Sprintf("Transfer %s: %d of %d bytes sent",
				event.Id.String(), event.BytesSent, event.TotalBytes))
		case engine.EventSucceeded:
			slog.Info(fmt.Sprintf("Transfer %s completed", event.Id.String()))
		case engine.EventFailed:
			slog.Error(fmt.Sprintf("Transfer %s failed permanently: %s",
				event.Id.String(), event.Error))
		case engine.EventCanceled:
			slog.Info(fmt.Sprintf("Transfer %s canceled", event.Id.String()))
		case engine.EventAuthExpired:
			slog.Warn("Upload credential rejected; dispatch paused until " +
				"the credential is replaced and dispatch is resumed")
		}
	}
}

func main() {

	// The only argument is the configuration filename.
	if len(os.Args) < 2 {
		usage()
	}
	configFile := os.Args[1]

	// Read the configuration file.
	log.Printf("Reading configuration from '%s'...\n", configFile)
	b, err := os.ReadFile(configFile)
	if err != nil {
		log.Panicf("Couldn't read configuration data: %s\n", err.Error())
	}

	// Initialize our configuration.
	initErr := config.Init(b)
	if initErr != nil {
		log.Panicf("Couldn't initialize the configuration: %s\n", initErr.Error())
	}

	// Open the transfer journal and the upload queue.
	if err = journal.Init(); err != nil {
		log.Panicf("Couldn't open the transfer journal: %s\n", err.Error())
	}
	transferQueue, err := queue.Open(filepath.Join(config.Service.DataDirectory,
		"upload_queue.db"))
	if err != nil {
		log.Panicf("Couldn't open the upload queue: %s\n", err.Error())
	}

	// Start watching connectivity.
	monitor := connection.NewMonitor()
	if err = monitor.Start(); err != nil {
		log.Panicf("Couldn't start the connection monitor: %s\n", err.Error())
	}

	// Assemble the upload machinery and create the service.
	tokens := auth.NewFileTokenProvider(config.Auth.UploadTokenFile)
	client := uploader.NewClient(tokens, func() connection.Quality {
		return monitor.Current().Quality
	})
	eng := engine.New(transferQueue, monitor, client)
	go logEvents(eng.Events())

	service, err := services.NewUplinkService(eng, monitor, tokens)
	if err != nil {
		log.Panicf("Couldn't create the service: %s\n", err.Error())
	}

	// Start the service in a goroutine so it doesn't block.
	go func() {
		err = service.Start(config.Service.Port)
		if err != nil {
			log.Println(err.Error())
		}
	}()

	// Intercept the SIGINT, SIGHUP, SIGTERM, and SIGQUIT signals, shutting down
	// the service as gracefully as possible if they are encountered.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	// Block till we receive one of the above signals.
	<-sigChan

	// Create a deadline to wait for.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Wait for connections to close until the deadline elapses.
	service.Shutdown(ctx)
	monitor.Stop()
	transferQueue.Close()
	journal.Finalize()
	log.Println("Shutting down")
	os.Exit(0)
}
